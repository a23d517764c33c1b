package main

import (
	"github.com/spf13/cobra"

	"Agent-Arena/pkg/logger"
)

func judgeCmd(load configLoader) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Run only the progress judge against shared storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Named("arenad")
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer func() { shutdownLog(log, "runtime close", rt.Close()) }()

			scheduler, err := rt.newScheduler()
			if err != nil {
				return err
			}
			if once {
				scheduler.RunOnce(ctx)
				return nil
			}
			scheduler.Start(ctx)
			<-ctx.Done()
			scheduler.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "judge every due run once and exit")
	return cmd
}
