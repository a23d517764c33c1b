package run

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"Agent-Arena/internal/agent"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/pkg/logger"
)

// Service validates, persists and enqueues runs.
type Service struct {
	store    Store
	producer Producer
	logger   *slog.Logger
}

// NewService wires a service over store and producer.
func NewService(store Store, producer Producer) *Service {
	return &Service{store: store, producer: producer, logger: logger.Named("run")}
}

// Submit creates a pending run and enqueues it. Resubmitting a known run id
// returns the existing run unchanged.
func (s *Service) Submit(ctx context.Context, cfg agent.RunConfig) (*Run, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run service is not initialised")
	}
	cfg.RunID = strings.TrimSpace(cfg.RunID)
	if cfg.RunID != "" {
		existing, err := s.store.Get(ctx, cfg.RunID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		cfg.RunID = uuid.NewString()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(CodeRunValidation, err, err.Error())
	}

	r := FromConfig(cfg)
	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, ErrRunConflict) {
			if existing, getErr := s.store.Get(ctx, r.ID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, r.ID); err != nil {
		s.logger.Error("enqueue run failed", "run_id", r.ID, "error", err)
		wrapped := xerrors.Wrap(CodeRunPublish, err, "publish run to queue")
		_ = s.store.Fail(ctx, r.ID, string(CodeRunPublish), wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("run submitted",
		slog.String("run_id", r.ID),
		slog.String("goal", r.Goal),
		slog.String("goal_type", string(r.GoalType)),
		slog.String("model", r.Model),
		slog.Float64("initial_credits", r.InitialCredits),
	)
	return r, nil
}

// Get returns one run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run store is not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns runs matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run store is not initialised")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Active returns every pending or running run, oldest first.
func (s *Service) Active(ctx context.Context) ([]*Run, error) {
	return s.List(ctx, WithActive(), WithLimit(200), WithSortOrder(SortByCreatedAsc))
}

// Resume republishes every pending run, for queues that lost their contents
// across a restart. Claim skips duplicates, so redelivery is harmless.
func (s *Service) Resume(ctx context.Context) (int, error) {
	pending, err := s.List(ctx, WithStatuses(StatusPending), WithLimit(200), WithSortOrder(SortByCreatedAsc))
	if err != nil {
		return 0, err
	}
	for i, r := range pending {
		if err := s.producer.Publish(ctx, r.ID); err != nil {
			return i, xerrors.Wrap(CodeRunPublish, err, "republish pending run")
		}
	}
	if len(pending) > 0 {
		s.logger.Info("pending runs republished", "count", len(pending))
	}
	return len(pending), nil
}

// WaitUntilCompleted polls until the run is terminal or ctx is done.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !r.Status.Active() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the store and the producer.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return errors.Join(errs...)
}
