// Package judge re-scores active runs from their persisted event logs with an
// LLM and writes the correction back to the progress store.
package judge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/llm"
)

var tracer = otel.Tracer("Agent-Arena/internal/judge")

// Run is what the judge needs to know about an active run.
type Run struct {
	ID               string
	Goal             string
	GoalType         string
	TargetValue      float64
	TimeLimit        time.Duration
	VerificationHint string
	CreatedAt        time.Time
}

// Evaluator scores a run from its events.
type Evaluator interface {
	Evaluate(ctx context.Context, run Run, evs []events.Event, elapsed time.Duration) (Verdict, error)
}

// LLMJudge asks a plain-text completer for a JSON verdict.
type LLMJudge struct {
	completer llm.Completer
	maxEvents int
}

// NewLLMJudge builds a judge over completer.
func NewLLMJudge(completer llm.Completer, maxEvents int) (*LLMJudge, error) {
	if completer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "judge completer is nil")
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &LLMJudge{completer: completer, maxEvents: maxEvents}, nil
}

// Evaluate implements Evaluator.
func (j *LLMJudge) Evaluate(ctx context.Context, run Run, evs []events.Event, elapsed time.Duration) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "judge.evaluate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("run.id", run.ID), attribute.Int("events", len(evs))),
	)
	defer span.End()

	raw, err := j.completer.Complete(ctx, systemPrompt, BuildPrompt(run, evs, elapsed, j.maxEvents))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, err
	}
	verdict, err := ParseVerdict(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, err
	}
	span.SetAttributes(attribute.Float64("progress_pct", verdict.ProgressPct), attribute.Bool("goal_achieved", verdict.GoalAchieved))
	return verdict, nil
}

var _ Evaluator = (*LLMJudge)(nil)
