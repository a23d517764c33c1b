package run

import (
	"context"

	"Agent-Arena/internal/events"
)

// Store persists runs. It doubles as the run state behind the event bridge.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim moves a pending run to running. A terminal run yields
	// ErrRunCompleted and a running one ErrRunConflict.
	Claim(ctx context.Context, id string) (*Run, error)
	SetProgress(ctx context.Context, id string, value float64) error
	// Complete records the terminal outcome and reports whether it landed.
	// The first completion wins; later calls return false.
	Complete(ctx context.Context, id string, outcome events.Outcome) (bool, error)
	// Fail marks an active run that could not start. Terminal runs are left
	// untouched.
	Fail(ctx context.Context, id string, code, message string) error
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Close() error
}

var _ events.RunState = (Store)(nil)
