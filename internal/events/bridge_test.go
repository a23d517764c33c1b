package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuns struct {
	mu       sync.Mutex
	progress map[string]float64
	outcomes map[string]Outcome
}

func newStubRuns() *stubRuns {
	return &stubRuns{progress: map[string]float64{}, outcomes: map[string]Outcome{}}
}

func (s *stubRuns) SetProgress(_ context.Context, runID string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[runID] = value
	return nil
}

func (s *stubRuns) Complete(_ context.Context, runID string, outcome Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.outcomes[runID]; done {
		return false, nil
	}
	s.outcomes[runID] = outcome
	return true, nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Name() string { return "broken" }

func (p *failingPublisher) Publish(context.Context, Event) error {
	p.calls++
	return errors.New("broker down")
}

func TestBridgePushPersistsDespitePublisherFailure(t *testing.T) {
	store := NewMemoryStore()
	pub := &failingPublisher{}
	bridge, err := NewBridge(store, newStubRuns(), WithPublishers(pub, NewLogPublisher(nil)))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bridge.Push(ctx, "run-1", TypeStatus, map[string]any{"step": 1, "status": "thinking"}))
	require.NoError(t, bridge.Push(ctx, "run-1", TypeReasoning, map[string]any{"reasoning": "go"}))
	assert.Equal(t, 2, pub.calls)

	events, err := bridge.ListEvents(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeReasoning, events[0].Type, "most recent first")

	limited, err := bridge.ListEvents(ctx, "run-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBridgeRejectsUnknownType(t *testing.T) {
	bridge, err := NewBridge(NewMemoryStore(), newStubRuns())
	require.NoError(t, err)
	require.Error(t, bridge.Push(context.Background(), "run-1", Type("telemetry"), nil))
}

func TestBridgePromptAcknowledgementIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	bridge, err := NewBridge(store, newStubRuns())
	require.NoError(t, err)
	ctx := context.Background()

	prompt, err := bridge.SubmitPrompt(ctx, "run-1", "try posting at noon")
	require.NoError(t, err)

	pending, err := bridge.FetchPendingPrompts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, bridge.AcknowledgePrompt(ctx, prompt.ID))
	require.NoError(t, bridge.AcknowledgePrompt(ctx, prompt.ID))

	first, err := store.AcknowledgePrompt(ctx, prompt.ID)
	require.NoError(t, err)
	assert.False(t, first)

	pending, err = bridge.FetchPendingPrompts(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBridgeCompleteAndProgress(t *testing.T) {
	runs := newStubRuns()
	store := NewMemoryStore()
	bridge, err := NewBridge(store, runs)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, bridge.UpdateProgress(ctx, "run-1", 42))
	require.NoError(t, bridge.Complete(ctx, "run-1", OutcomeSuccess))
	require.Error(t, bridge.Complete(ctx, "run-1", Outcome("maybe")))
	assert.Equal(t, 42.0, runs.progress["run-1"])
	assert.Equal(t, OutcomeSuccess, runs.outcomes["run-1"])

	evs, err := store.ListEvents(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "completed", evs[0].Payload["status"])
	assert.Equal(t, true, evs[0].Payload["success"])
}

func TestBridgeEmitsOneTerminalEventPerRun(t *testing.T) {
	runs := newStubRuns()
	store := NewMemoryStore()
	bridge, err := NewBridge(store, runs)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, bridge.Complete(ctx, "run-1", OutcomeSuccess))
	require.NoError(t, bridge.Complete(ctx, "run-1", OutcomeFailed))
	assert.Equal(t, OutcomeSuccess, runs.outcomes["run-1"])

	evs, err := store.ListEvents(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1, "a late completion must not append a second terminal event")
	assert.Equal(t, string(OutcomeSuccess), evs[0].Payload["outcome"])
}
