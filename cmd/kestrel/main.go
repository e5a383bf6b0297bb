// kestrel runs the outbound collections voice agent and its offline
// script-optimization pipeline.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelvoice/kestrel/internal/dotenv"
	"github.com/kestrelvoice/kestrel/pkg/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:           "kestrel",
		Short:         "Outbound collections voice agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAgentCmd(logger))
	root.AddCommand(newPipelineCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig bootstraps the environment and builds the process config.
func loadConfig() (config.Config, error) {
	if err := dotenv.Load(".env.local"); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
