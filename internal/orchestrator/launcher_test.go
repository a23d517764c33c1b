package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agent-Arena/internal/agent"
	"Agent-Arena/internal/config"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/run"
)

type scriptedProvider struct {
	mu    sync.Mutex
	stop  bool
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Think(context.Context, llm.Request) (*llm.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &llm.Decision{
		Reasoning:  "thinking it over",
		ActionType: llm.ActionFinishReasoning,
		Action:     llm.Action{"reasoning": "thinking it over", "should_stop": p.stop},
	}, nil
}

type fixture struct {
	store  *run.MemoryStore
	log    *events.MemoryStore
	bridge *events.Bridge
}

func newFixture(t *testing.T, r *run.Run) fixture {
	t.Helper()
	store := run.NewMemoryStore()
	log := events.NewMemoryStore()
	bridge, err := events.NewBridge(log, store, events.WithInbox(log))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), r))
	_, err = store.Claim(context.Background(), r.ID)
	require.NoError(t, err)
	return fixture{store: store, log: log, bridge: bridge}
}

func resolverFor(p llm.Provider) ProviderResolver {
	return func(string) ([]llm.Provider, error) { return []llm.Provider{p}, nil }
}

func TestLaunchRunsLoopUntilSelfStop(t *testing.T) {
	f := newFixture(t, &run.Run{ID: "r1", Goal: "Write a haiku", GoalType: "general", TargetValue: 100, TimeLimit: 3600, InitialCredits: 10})
	provider := &scriptedProvider{stop: true}
	l, err := NewLauncher(resolverFor(provider), f.store, f.bridge, WithSettings(agent.Settings{TickDelay: -1}))
	require.NoError(t, err)

	claimed, err := f.store.Get(context.Background(), "r1")
	require.NoError(t, err)
	state, err := l.Launch(context.Background(), claimed)
	require.NoError(t, err)
	assert.Equal(t, agent.StateStoppedSelf, state)
	assert.Equal(t, 1, provider.calls)

	stored, err := f.store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, stored.Status)
	assert.Equal(t, events.OutcomeFailed, stored.Outcome)

	evs, err := f.log.ListEvents(context.Background(), "r1", 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "completed", evs[0].Payload["status"])
}

func TestLaunchStopsWhenRunCompletedElsewhere(t *testing.T) {
	f := newFixture(t, &run.Run{ID: "r1", Goal: "Get 100 followers", GoalType: "general", TargetValue: 100, TimeLimit: 3600, InitialCredits: 10})
	l, err := NewLauncher(resolverFor(&scriptedProvider{}), f.store, f.bridge,
		WithSettings(agent.Settings{TickDelay: 5 * time.Millisecond}),
		WithWatchInterval(10*time.Millisecond))
	require.NoError(t, err)

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = f.bridge.Complete(context.Background(), "r1", events.OutcomeSuccess)
	}()

	claimed, _ := f.store.Get(context.Background(), "r1")
	done := make(chan error, 1)
	go func() {
		_, err := l.Launch(context.Background(), claimed)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("loop kept running after the run was completed")
	}

	stored, _ := f.store.Get(context.Background(), "r1")
	assert.Equal(t, run.StatusSucceeded, stored.Status, "the external completion must win")

	evs, err := f.log.ListEvents(context.Background(), "r1", 500)
	require.NoError(t, err)
	var outcomes []any
	for _, ev := range evs {
		if ev.Type == events.TypeStatus && ev.Payload["status"] == "completed" {
			outcomes = append(outcomes, ev.Payload["outcome"])
		}
	}
	assert.Equal(t, []any{string(events.OutcomeSuccess)}, outcomes, "only the landing completion is recorded")
}

func TestLaunchReportsConstructionFailure(t *testing.T) {
	f := newFixture(t, &run.Run{ID: "r1", Goal: "g", GoalType: "general", TimeLimit: 60, InitialCredits: 1})
	resolve := func(string) ([]llm.Provider, error) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no provider could be constructed")
	}
	l, err := NewLauncher(resolve, f.store, f.bridge)
	require.NoError(t, err)

	claimed, _ := f.store.Get(context.Background(), "r1")
	_, err = l.Launch(context.Background(), claimed)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestNewLauncherRequiresDependencies(t *testing.T) {
	_, err := NewLauncher(nil, run.NewMemoryStore(), nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFrom(config.AgentConfig{MaxTurns: 12, TickDelay: time.Second, MemoryK: 3})
	assert.Equal(t, 12, s.MaxTurns)
	assert.Equal(t, time.Second, s.TickDelay)
	assert.Equal(t, 3, s.MemoryK)
}

func TestToolFactory(t *testing.T) {
	ctx := context.Background()
	r := &run.Run{ID: "r1", InboxID: "agent@inbox.test"}

	set, err := NewToolFactory(config.ToolsConfig{}, nil)(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, set.Browser)
	assert.Nil(t, set.Mailer)
	assert.Nil(t, set.Payments)

	set, err = NewToolFactory(config.ToolsConfig{
		Browser:  config.BrowserConfig{APIKey: "bu-key"},
		Email:    config.EmailConfig{APIKey: "mail-key"},
		Payments: config.PaymentsConfig{Driver: "locus", APIKey: "pay-key"},
	}, nil)(ctx, r)
	require.NoError(t, err)
	assert.NotNil(t, set.Browser)
	assert.NotNil(t, set.Mailer)
	assert.NotNil(t, set.Payments)

	_, err = NewToolFactory(config.ToolsConfig{Payments: config.PaymentsConfig{Driver: "evm"}}, nil)(ctx, r)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = NewToolFactory(config.ToolsConfig{Payments: config.PaymentsConfig{Driver: "cash"}}, nil)(ctx, r)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestJudgeBackendListsRunningRuns(t *testing.T) {
	ctx := context.Background()
	store := run.NewMemoryStore()
	log := events.NewMemoryStore()
	bridge, err := events.NewBridge(log, store)
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, &run.Run{ID: "pending", Goal: "g"}))
	require.NoError(t, store.Create(ctx, &run.Run{ID: "live", Goal: "g", GoalType: "views", TargetValue: 500, TimeLimit: 7200}))
	_, err = store.Claim(ctx, "live")
	require.NoError(t, err)

	backend := NewJudgeBackend(store, bridge)
	runs, err := backend.ActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "live", runs[0].ID)
	assert.Equal(t, 2*time.Hour, runs[0].TimeLimit)
	assert.Equal(t, "views", runs[0].GoalType)
	assert.False(t, runs[0].CreatedAt.IsZero())

	require.NoError(t, backend.UpdateProgress(ctx, "live", 250))
	require.NoError(t, backend.Complete(ctx, "live", events.OutcomeSuccess))
	stored, _ := store.Get(ctx, "live")
	assert.Equal(t, 250.0, stored.Progress)
	assert.Equal(t, run.StatusSucceeded, stored.Status)
}
