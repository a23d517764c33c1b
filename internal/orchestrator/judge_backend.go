package orchestrator

import (
	"context"
	"time"

	"Agent-Arena/internal/events"
	"Agent-Arena/internal/judge"
	"Agent-Arena/internal/run"
)

// JudgeBackend exposes running runs and their event streams to the judge
// scheduler. Corrections flow through the same bridge the loops write to.
type JudgeBackend struct {
	store  run.Store
	bridge *events.Bridge
}

// NewJudgeBackend wires a backend.
func NewJudgeBackend(store run.Store, bridge *events.Bridge) *JudgeBackend {
	return &JudgeBackend{store: store, bridge: bridge}
}

// ActiveRuns implements judge.Backend. Only claimed runs have anything to
// judge.
func (b *JudgeBackend) ActiveRuns(ctx context.Context) ([]judge.Run, error) {
	runs, err := b.store.List(ctx, run.BuildListOptions(
		run.WithStatuses(run.StatusRunning),
		run.WithLimit(200),
		run.WithSortOrder(run.SortByCreatedAsc),
	))
	if err != nil {
		return nil, err
	}
	out := make([]judge.Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, ToJudgeRun(r))
	}
	return out, nil
}

// ListEvents implements judge.Backend.
func (b *JudgeBackend) ListEvents(ctx context.Context, runID string, limit int) ([]events.Event, error) {
	return b.bridge.ListEvents(ctx, runID, limit)
}

// UpdateProgress implements judge.Backend.
func (b *JudgeBackend) UpdateProgress(ctx context.Context, runID string, value float64) error {
	return b.bridge.UpdateProgress(ctx, runID, value)
}

// Complete implements judge.Backend.
func (b *JudgeBackend) Complete(ctx context.Context, runID string, outcome events.Outcome) error {
	return b.bridge.Complete(ctx, runID, outcome)
}

// ToJudgeRun maps a stored run onto what the judge reads. The judge clock
// starts when the run was claimed.
func ToJudgeRun(r *run.Run) judge.Run {
	started := r.CreatedAt
	if r.StartedAt > 0 {
		started = r.StartedAt
	}
	jr := judge.Run{
		ID:               r.ID,
		Goal:             r.Goal,
		GoalType:         string(r.GoalType),
		TargetValue:      r.TargetValue,
		TimeLimit:        time.Duration(r.TimeLimit) * time.Second,
		VerificationHint: r.VerificationHint,
	}
	if started > 0 {
		jr.CreatedAt = time.Unix(started, 0)
	}
	return jr
}

var _ judge.Backend = (*JudgeBackend)(nil)
