// Command arenad hosts autonomous agent runs: the HTTP API with its run
// workers, a single run from a file, or the standalone judge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Agent-Arena/internal/config"
	"Agent-Arena/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "arenad: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "arenad",
		Short:         "Run goal-directed agents against real-world tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $"+config.EnvPrefix+"_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := logger.Init(logger.Config{
			Level:       cfg.Log.Level,
			Format:      cfg.Log.Format,
			OutputPaths: cfg.Log.Outputs,
			Audit: logger.AuditConfig{
				Enabled:    cfg.Log.Audit.Enabled,
				Path:       cfg.Log.Audit.Path,
				MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
				MaxBackups: cfg.Log.Audit.MaxBackups,
				MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
			},
		}); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return cfg, nil
	}

	cmd.AddCommand(serveCmd(load))
	cmd.AddCommand(runCmd(load))
	cmd.AddCommand(judgeCmd(load))
	return cmd
}

type configLoader func() (*config.Config, error)
