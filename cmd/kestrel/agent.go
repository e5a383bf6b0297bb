package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kestrelvoice/kestrel/pkg/agent"
	"github.com/kestrelvoice/kestrel/pkg/core/providers/openai"
	"github.com/kestrelvoice/kestrel/pkg/metrics"
	"github.com/kestrelvoice/kestrel/pkg/telephony"
)

func newAgentCmd(logger *slog.Logger) *cobra.Command {
	var jobFile string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Place one outbound collections call from a job payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForAgent(); err != nil {
				return err
			}

			job, err := readJob(jobFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			collector := metrics.NewCollector(reg)
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, reg, logger)
			}

			observer := agent.MultiObserver{
				agent.LogObserver{Logger: logger},
				collector,
			}

			providerOpts := []openai.Option{}
			if cfg.OpenAIBaseURL != "" {
				providerOpts = append(providerOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
			}
			provider := openai.New(cfg.OpenAIAPIKey, providerOpts...)
			platform := telephony.NewClient(cfg.GatewayURL, logger)

			controller := agent.NewController(cfg, platform, provider, observer, logger)
			return controller.Run(ctx, job)
		},
	}

	cmd.Flags().StringVar(&jobFile, "job-file", "", "path to the job payload JSON (default: stdin)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (disabled if empty)")
	return cmd
}

func readJob(path string) ([]byte, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read job from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return data, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
