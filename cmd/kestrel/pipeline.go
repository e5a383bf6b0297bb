package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelvoice/kestrel/pkg/agent"
	"github.com/kestrelvoice/kestrel/pkg/core/providers/openai"
	"github.com/kestrelvoice/kestrel/pkg/pipeline"
)

func newPipelineCmd(logger *slog.Logger) *cobra.Command {
	var runFilePath string
	var scriptPath string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Simulate debtor conversations and score the agent script",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			simulations := cfg.NumSimulations
			maxTurns := cfg.MaxTurns
			agentModel := cfg.AgentModel
			debtorModel := cfg.DebtorModel
			optimizerModel := cfg.OptimizerModel

			if runFilePath != "" {
				rf, err := pipeline.LoadRunFile(runFilePath)
				if err != nil {
					return err
				}
				if rf.Simulations > 0 {
					simulations = rf.Simulations
				}
				if rf.MaxTurns > 0 {
					maxTurns = rf.MaxTurns
				}
				if rf.AgentModel != "" {
					agentModel = rf.AgentModel
				}
				if rf.DebtorModel != "" {
					debtorModel = rf.DebtorModel
				}
				if rf.OptimizerModel != "" {
					optimizerModel = rf.OptimizerModel
				}
				if rf.ScriptPath != "" && scriptPath == "" {
					scriptPath = rf.ScriptPath
				}
			}

			script, err := loadScript(scriptPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			providerOpts := []openai.Option{}
			if cfg.OpenAIBaseURL != "" {
				providerOpts = append(providerOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
			}
			provider := openai.New(cfg.OpenAIAPIKey, providerOpts...)

			driver := pipeline.NewDriver(
				pipeline.NewSynthesizer(provider, debtorModel, logger),
				pipeline.NewSimulator(provider, agentModel, debtorModel, logger),
				pipeline.NewOptimizer(provider, optimizerModel, logger),
				script,
				maxTurns,
				logger,
			)

			report, err := driver.Run(ctx, simulations)
			if err != nil {
				// A malformed report is presented raw rather than
				// replaced with fabricated scores.
				var malformed *pipeline.MalformedReportError
				if errors.As(err, &malformed) {
					logger.Error("failed to parse optimization results as JSON")
					fmt.Fprintln(cmd.OutOrStdout(), malformed.Raw)
				}
				return err
			}

			pretty, err := json.MarshalIndent(report, "", "    ")
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
			return nil
		},
	}

	cmd.Flags().StringVar(&runFilePath, "run-file", "", "path to a YAML pipeline run file")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to the agent script (default: built-in script with default call context)")
	return cmd
}

// loadScript reads the agent script under optimization. Without a path it
// falls back to the built-in script rendered with default call context,
// which is what the live agent says when a job omits every optional
// field.
func loadScript(path string) (string, error) {
	if path == "" {
		cc, err := agent.ParseJobMetadata([]byte(`{"phone_number":"+10000000000"}`))
		if err != nil {
			return "", err
		}
		return agent.BuildScript(cc), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}
