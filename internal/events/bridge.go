package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/pkg/logger"
)

// Bridge implements Sink over a persisted Log, an Inbox, the run record and
// any number of live publishers. Publisher failures are logged and never
// fail a push once the event is persisted.
type Bridge struct {
	log        Log
	inbox      Inbox
	runs       RunState
	publishers []Publisher
	logger     *slog.Logger
}

// BridgeOption customises a Bridge.
type BridgeOption func(*Bridge)

// WithPublishers adds live publishers.
func WithPublishers(publishers ...Publisher) BridgeOption {
	return func(b *Bridge) {
		for _, p := range publishers {
			if p != nil {
				b.publishers = append(b.publishers, p)
			}
		}
	}
}

// WithInbox overrides where prompts are read from.
func WithInbox(inbox Inbox) BridgeOption {
	return func(b *Bridge) {
		if inbox != nil {
			b.inbox = inbox
		}
	}
}

// NewBridge wires the bridge. inbox may be nil when log also implements Inbox.
func NewBridge(log Log, runs RunState, opts ...BridgeOption) (*Bridge, error) {
	if log == nil || runs == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "event bridge requires an event log and a run state")
	}
	b := &Bridge{log: log, runs: runs, logger: logger.Named("events")}
	if inbox, ok := log.(Inbox); ok {
		b.inbox = inbox
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Push implements Sink.
func (b *Bridge) Push(ctx context.Context, runID string, typ Type, payload map[string]any) error {
	if !typ.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown event type: "+string(typ))
	}
	event := New(runID, typ, payload)
	if err := b.log.AppendEvent(ctx, event); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "append event")
	}
	if err := b.publish(ctx, event); err != nil {
		b.logger.Warn("live publish failed", "run_id", runID, "event_type", string(typ), "error", err)
	}
	return nil
}

func (b *Bridge) publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range b.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// UpdateProgress implements Sink.
func (b *Bridge) UpdateProgress(ctx context.Context, runID string, value float64) error {
	return b.runs.SetProgress(ctx, runID, value)
}

// Complete implements Sink. Only the completion that lands on the run record
// emits the terminal status event and the audit entry.
func (b *Bridge) Complete(ctx context.Context, runID string, outcome Outcome) error {
	if outcome != OutcomeSuccess && outcome != OutcomeFailed {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown outcome: "+string(outcome))
	}
	landed, err := b.runs.Complete(ctx, runID, outcome)
	if err != nil {
		return err
	}
	if !landed {
		b.logger.Info("run already finished, completion ignored", "run_id", runID, "outcome", string(outcome))
		return nil
	}
	event := New(runID, TypeStatus, map[string]any{"status": "completed", "outcome": string(outcome), "success": outcome == OutcomeSuccess})
	if err := b.log.AppendEvent(ctx, event); err != nil {
		b.logger.Warn("append completion event failed", "run_id", runID, "error", err)
	} else if err := b.publish(ctx, event); err != nil {
		b.logger.Warn("live publish failed", "run_id", runID, "event_type", string(TypeStatus), "error", err)
	}
	logger.Audit().Info("run completed", "run_id", runID, "outcome", string(outcome))
	return nil
}

// FetchPendingPrompts implements Sink.
func (b *Bridge) FetchPendingPrompts(ctx context.Context, runID string) ([]Prompt, error) {
	if b.inbox == nil {
		return nil, nil
	}
	return b.inbox.PendingPrompts(ctx, runID)
}

// AcknowledgePrompt implements Sink. A repeated acknowledgement is logged
// and treated as success.
func (b *Bridge) AcknowledgePrompt(ctx context.Context, promptID string) error {
	if b.inbox == nil || strings.TrimSpace(promptID) == "" {
		return nil
	}
	first, err := b.inbox.AcknowledgePrompt(ctx, promptID)
	if err != nil {
		return err
	}
	if !first {
		b.logger.Debug("prompt already acknowledged", "prompt_id", promptID)
	}
	return nil
}

// SubmitPrompt queues a user prompt for a run.
func (b *Bridge) SubmitPrompt(ctx context.Context, runID, text string) (Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return Prompt{}, xerrors.New(xerrors.CodeInvalidArgument, "prompt text is empty")
	}
	if b.inbox == nil {
		return Prompt{}, xerrors.New(xerrors.CodeInitializationFailure, "no prompt inbox configured")
	}
	prompt := NewPrompt(runID, strings.TrimSpace(text))
	if err := b.inbox.AddPrompt(ctx, prompt); err != nil {
		return Prompt{}, err
	}
	return prompt, nil
}

// ListEvents returns a run's events, most recent first.
func (b *Bridge) ListEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	return b.log.ListEvents(ctx, runID, limit)
}

var _ Sink = (*Bridge)(nil)
