// Package run owns the lifecycle of submitted runs: validation, persistence,
// queueing and the processor that hosts one agent loop per claimed run.
package run

import (
	"strings"

	"Agent-Arena/internal/agent"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/verifier"
)

// Status is where a run is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether a run in status s can still make progress.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// ActiveStatuses lists the non-terminal statuses.
var ActiveStatuses = []Status{StatusPending, StatusRunning}

// Run is one submitted agent run and its externally visible state.
type Run struct {
	ID               string            `json:"id"`
	Goal             string            `json:"goal"`
	GoalType         verifier.GoalType `json:"goal_type"`
	TargetValue      float64           `json:"target_value"`
	TimeLimit        int64             `json:"time_limit"`
	InitialCredits   float64           `json:"initial_credits"`
	Model            string            `json:"model"`
	Constraints      []string          `json:"constraints,omitempty"`
	AccountHandle    string            `json:"account_handle,omitempty"`
	Platform         string            `json:"platform,omitempty"`
	ContentURL       string            `json:"content_url,omitempty"`
	VerificationHint string            `json:"verification_hint,omitempty"`
	InboxID          string            `json:"inbox_id,omitempty"`
	Status           Status            `json:"status"`
	Progress         float64           `json:"progress"`
	Outcome          events.Outcome    `json:"outcome,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
	StartedAt        int64             `json:"started_at,omitempty"`
	CompletedAt      int64             `json:"completed_at,omitempty"`
}

// FromConfig builds a pending run from a launch configuration.
func FromConfig(cfg agent.RunConfig) *Run {
	return &Run{
		ID:               cfg.RunID,
		Goal:             cfg.Goal,
		GoalType:         cfg.GoalType,
		TargetValue:      cfg.TargetValue,
		TimeLimit:        cfg.TimeLimit,
		InitialCredits:   cfg.StartingCredits(),
		Model:            cfg.Model,
		Constraints:      cloneStrings(cfg.Constraints),
		AccountHandle:    cfg.AccountHandle,
		Platform:         cfg.Platform,
		ContentURL:       cfg.ContentURL,
		VerificationHint: cfg.VerificationHint,
		InboxID:          cfg.InboxID,
		Status:           StatusPending,
	}
}

// Config returns the launch configuration of r.
func (r *Run) Config() agent.RunConfig {
	return agent.RunConfig{
		RunID:            r.ID,
		Goal:             r.Goal,
		GoalType:         r.GoalType,
		TargetValue:      r.TargetValue,
		TimeLimit:        r.TimeLimit,
		InitialCredits:   agent.Budget(r.InitialCredits),
		Model:            r.Model,
		Constraints:      cloneStrings(r.Constraints),
		AccountHandle:    r.AccountHandle,
		Platform:         r.Platform,
		ContentURL:       r.ContentURL,
		VerificationHint: r.VerificationHint,
		InboxID:          r.InboxID,
	}
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Constraints = cloneStrings(r.Constraints)
	return &out
}

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict is returned when a run cannot make the requested transition.
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted is returned when a run already reached a terminal status.
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunFailed     xerrors.Code = "RUN_FAILED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:  "run validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRunFailed, xerrors.Attributes{
		Message:  "run could not start",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
