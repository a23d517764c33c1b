package run

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
)

// MemoryStore keeps runs in process. It backs tests and the single-run CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), now: time.Now}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, r *Run) error {
	if r == nil || r.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; ok {
		return ErrRunConflict
	}
	now := m.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusPending
	}
	m.runs[r.ID] = r.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.Clone(), nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch r.Status {
	case StatusSucceeded, StatusFailed:
		return r.Clone(), ErrRunCompleted
	case StatusRunning:
		return r.Clone(), ErrRunConflict
	}
	now := m.now().Unix()
	r.Status = StatusRunning
	r.StartedAt = now
	r.UpdatedAt = now
	return r.Clone(), nil
}

// SetProgress implements Store.
func (m *MemoryStore) SetProgress(_ context.Context, id string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	r.Progress = value
	r.UpdatedAt = m.now().Unix()
	return nil
}

// Complete implements Store.
func (m *MemoryStore) Complete(_ context.Context, id string, outcome events.Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return false, ErrRunNotFound
	}
	if !r.Status.Active() {
		return false, nil
	}
	now := m.now().Unix()
	r.Status = StatusFailed
	if outcome == events.OutcomeSuccess {
		r.Status = StatusSucceeded
	}
	r.Outcome = outcome
	r.CompletedAt = now
	r.UpdatedAt = now
	return true, nil
}

// Fail implements Store.
func (m *MemoryStore) Fail(_ context.Context, id string, code, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if !r.Status.Active() {
		return nil
	}
	now := m.now().Unix()
	r.Status = StatusFailed
	r.Outcome = events.OutcomeFailed
	r.ErrorCode = code
	r.LastError = message
	r.CompletedAt = now
	r.UpdatedAt = now
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	opts.Normalize()
	m.mu.RLock()
	matched := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CreatedAt == b.CreatedAt {
			if opts.Order == SortByCreatedAsc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if opts.Order == SortByCreatedAsc {
			return a.CreatedAt < b.CreatedAt
		}
		return a.CreatedAt > b.CreatedAt
	})
	if opts.Offset >= len(matched) {
		return []*Run{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
