package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Agent-Arena/internal/agent"
	"Agent-Arena/internal/judge"
	"Agent-Arena/internal/run"
	"Agent-Arena/pkg/logger"
)

// runSummary is printed to stdout when a single run finishes.
type runSummary struct {
	State agent.State `json:"state"`
	Run   *run.Run    `json:"run"`
	Error string      `json:"error,omitempty"`
}

func runCmd(load configLoader) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent in-process from a JSON run config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Named("arenad")
			ctx := cmd.Context()

			runCfg, err := agent.LoadRunConfig(file)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() { shutdownLog(log, "runtime close", rt.Close()) }()

			launcher, err := rt.newLauncher()
			if err != nil {
				return err
			}
			if err := rt.store.Create(ctx, run.FromConfig(runCfg)); err != nil {
				return err
			}
			r, err := rt.store.Claim(ctx, runCfg.RunID)
			if err != nil {
				return err
			}

			var scheduler *judge.Scheduler
			if cfg.Judge.Enabled {
				if scheduler, err = rt.newScheduler(); err != nil {
					return err
				}
				scheduler.Start(ctx)
			}

			state, runErr := launcher.Launch(ctx, r)
			if scheduler != nil {
				scheduler.Stop()
			}
			if runErr != nil {
				_ = rt.store.Fail(ctx, r.ID, string(run.CodeRunFailed), runErr.Error())
			}

			summary := runSummary{State: state}
			if final, err := rt.store.Get(ctx, r.ID); err == nil {
				summary.Run = final
			}
			if runErr != nil {
				summary.Error = runErr.Error()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON run config, as written by the launch tooling")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
