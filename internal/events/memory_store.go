package events

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Agent-Arena/internal/errors"
)

// MemoryStore keeps events and prompts in process. It backs tests and the
// single-run CLI.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string][]Event
	prompts map[string]*Prompt
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string][]Event),
		prompts: make(map[string]*Prompt),
	}
}

// AppendEvent implements Log.
func (m *MemoryStore) AppendEvent(_ context.Context, event Event) error {
	if event.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "event run id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Payload = clonePayload(event.Payload)
	m.events[event.RunID] = append(m.events[event.RunID], event)
	return nil
}

// ListEvents implements Log.
func (m *MemoryStore) ListEvents(_ context.Context, runID string, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.events[runID]
	out := make([]Event, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		e := stored[i]
		e.Payload = clonePayload(e.Payload)
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AddPrompt implements Inbox.
func (m *MemoryStore) AddPrompt(_ context.Context, prompt Prompt) error {
	if prompt.ID == "" || prompt.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "prompt id and run id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[prompt.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "prompt already exists")
	}
	clone := prompt
	m.prompts[prompt.ID] = &clone
	return nil
}

// PendingPrompts implements Inbox, oldest first.
func (m *MemoryStore) PendingPrompts(_ context.Context, runID string) ([]Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Prompt
	for _, p := range m.prompts {
		if p.RunID == runID && p.AcknowledgedAt == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AcknowledgePrompt implements Inbox.
func (m *MemoryStore) AcknowledgePrompt(_ context.Context, promptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return false, xerrors.New(xerrors.CodeNotFound, "prompt not found")
	}
	if p.AcknowledgedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	p.AcknowledgedAt = &now
	return true, nil
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

var (
	_ Log   = (*MemoryStore)(nil)
	_ Inbox = (*MemoryStore)(nil)
)
