// Package events carries what a run reports to the outside world: the event
// stream, progress writes, the terminal outcome and the inbox of
// user-injected prompts.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type tags an event.
type Type string

const (
	TypeStatus     Type = "status"
	TypeReasoning  Type = "reasoning"
	TypeEmail      Type = "email"
	TypePayment    Type = "payment"
	TypeScreenshot Type = "screenshot"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeStatus, TypeReasoning, TypeEmail, TypePayment, TypeScreenshot:
		return true
	default:
		return false
	}
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Event is one persisted entry of a run's stream.
type Event struct {
	ID        string         `json:"id" db:"id"`
	RunID     string         `json:"run_id" db:"run_id"`
	Type      Type           `json:"event_type" db:"event_type"`
	Payload   map[string]any `json:"payload" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// New builds an event with a fresh id.
func New(runID string, typ Type, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// PayloadJSON renders the payload, falling back to an empty object.
func (e Event) PayloadJSON() string {
	if len(e.Payload) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Prompt is a suggestion a spectator injected into a live run.
type Prompt struct {
	ID             string     `json:"id" db:"id"`
	RunID          string     `json:"run_id" db:"run_id"`
	Text           string     `json:"text" db:"prompt_text"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}

// NewPrompt builds a pending prompt with a fresh id.
func NewPrompt(runID, text string) Prompt {
	return Prompt{ID: uuid.NewString(), RunID: runID, Text: text, CreatedAt: time.Now().UTC()}
}

// Sink is what an agent loop writes to and reads prompts from.
type Sink interface {
	Push(ctx context.Context, runID string, typ Type, payload map[string]any) error
	UpdateProgress(ctx context.Context, runID string, value float64) error
	Complete(ctx context.Context, runID string, outcome Outcome) error
	FetchPendingPrompts(ctx context.Context, runID string) ([]Prompt, error)
	AcknowledgePrompt(ctx context.Context, promptID string) error
}

// Log persists events and lists them most recent first.
type Log interface {
	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, runID string, limit int) ([]Event, error)
}

// Inbox holds user prompts. AcknowledgePrompt reports false when the prompt
// was already acknowledged.
type Inbox interface {
	AddPrompt(ctx context.Context, prompt Prompt) error
	PendingPrompts(ctx context.Context, runID string) ([]Prompt, error)
	AcknowledgePrompt(ctx context.Context, promptID string) (bool, error)
}

// RunState records progress and completion against the run record.
type RunState interface {
	SetProgress(ctx context.Context, runID string, value float64) error
	// Complete reports whether this call moved the run to a terminal status.
	// A run that is already terminal yields false and no error.
	Complete(ctx context.Context, runID string, outcome Outcome) (bool, error)
}

// Publisher forwards events to live subscribers.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}
