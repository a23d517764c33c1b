package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Agent-Arena/internal/api"
	"Agent-Arena/internal/judge"
	"Agent-Arena/internal/run"
	"Agent-Arena/pkg/logger"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, run workers and the judge",
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

			queue, err := newQueue(ctx, cfg.Queue)
			if err != nil {
				return err
			}
			defer func() { shutdownLog(log, "queue close", queue.Close()) }()

			launcher, err := rt.newLauncher()
			if err != nil {
				return err
			}
			service := run.NewService(rt.store, queue)
			if _, err := service.Resume(ctx); err != nil {
				log.Warn("resume pending runs failed", "error", err)
			}
			processor := run.NewProcessor(launcher, rt.store, queue, run.WithWorkerCount(cfg.Queue.Workers))
			server := api.NewServer(cfg.Server.Address, service, rt.bridge, api.WithHealthChecks(rt.pingers...), api.WithAPIKeys(cfg.Server.APIKeys...))

			var scheduler *judge.Scheduler
			if cfg.Judge.Enabled {
				if scheduler, err = rt.newScheduler(); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Start(gctx) })
			g.Go(func() error { return processor.Start(gctx) })
			if scheduler != nil {
				scheduler.Start(gctx)
				g.Go(func() error {
					<-gctx.Done()
					scheduler.Stop()
					return nil
				})
			}

			done := make(chan error, 1)
			go func() { done <- g.Wait() }()
			select {
			case err := <-done:
				shutdownLog(log, "arenad", err)
				return ignoreCanceled(err)
			case <-ctx.Done():
			}
			log.Info("shutting down", "drain_timeout", drainTimeout.String())
			select {
			case err := <-done:
				shutdownLog(log, "arenad", err)
				return ignoreCanceled(err)
			case <-time.After(drainTimeout):
				log.Warn("workers did not drain in time")
				return context.DeadlineExceeded
			}
		},
	}
}
