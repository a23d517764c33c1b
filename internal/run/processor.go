package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Agent-Arena/internal/agent"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/observability/metrics"
	"Agent-Arena/pkg/logger"
)

// Launcher hosts one agent loop for a claimed run and returns when the loop
// ends. An error means the run never entered its loop or was interrupted.
type Launcher interface {
	Launch(ctx context.Context, r *Run) (agent.State, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, r *Run) (agent.State, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, r *Run) (agent.State, error) { return f(ctx, r) }

// Processor consumes run tickets and hosts their agent loops. Worker count bounds
// how many loops run at once.
type Processor struct {
	launcher    Launcher
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger overrides the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount sets how many runs may execute concurrently.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor builds a processor.
func NewProcessor(launcher Launcher, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		launcher:    launcher,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start consumes until ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "no run consumer configured")
	}
	p.logger.Info("run processor started", "workers", p.workerCount)
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, t Ticket) error {
	if p.store == nil || p.launcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "run processor is not initialised")
	}
	log := logger.ForRun(p.logger, t.RunID).With("attempt", t.Attempt)
	metrics.ObserveQueueWait(t.Waited(time.Now()))
	r, err := p.store.Claim(ctx, t.RunID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunCompleted) || errors.Is(err, ErrRunConflict) {
			log.Debug("skip run", "reason", err.Error())
			return nil
		}
		log.Error("claim run failed", "error", err)
		return err
	}

	state, err := p.launch(ctx, r)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Info("run interrupted by shutdown")
			return nil
		}
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = CodeRunFailed
		}
		if storeErr := p.store.Fail(ctx, r.ID, string(code), err.Error()); storeErr != nil {
			log.Error("record run failure failed", "error", storeErr)
			return storeErr
		}
		logger.Audit().Warn("run failed to start",
			slog.String("run_id", r.ID),
			slog.String("error_code", string(code)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	log.Info("run finished", "state", string(state))
	return nil
}

// launch runs the launcher, turning a panic into an error so one broken run
// cannot take the worker down.
func (p *Processor) launch(ctx context.Context, r *Run) (state agent.State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = xerrors.New(CodeRunFailed, fmt.Sprintf("agent loop panicked: %v", rec))
		}
	}()
	return p.launcher.Launch(ctx, r)
}
