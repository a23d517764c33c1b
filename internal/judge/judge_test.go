package judge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
)

func TestParseVerdictAcceptsFencedJSON(t *testing.T) {
	raw := "```json\n{\"progress_pct\": 42.5, \"evidence\": [\"sent 3 emails\"], \"goal_achieved\": false, \"reasoning\": \"halfway\"}\n```"
	v, err := ParseVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, 42.5, v.ProgressPct)
	assert.Equal(t, []string{"sent 3 emails"}, v.Evidence)
}

func TestParseVerdictRejectsInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":      "I think they did great",
		"out of range":  `{"progress_pct": 140, "evidence": [], "goal_achieved": false, "reasoning": ""}`,
		"missing field": `{"progress_pct": 40, "evidence": [], "reasoning": "x"}`,
		"wrong type":    `{"progress_pct": "40", "evidence": [], "goal_achieved": false, "reasoning": "x"}`,
	}
	for name, raw := range cases {
		_, err := ParseVerdict(raw)
		require.Error(t, err, name)
		assert.Equal(t, CodeInvalidVerdict, xerrors.CodeOf(err), name)
	}
}

func TestIntervalForIsNonDecreasing(t *testing.T) {
	assert.Equal(t, 2*time.Minute, IntervalFor(time.Hour))
	assert.Equal(t, 5*time.Minute, IntervalFor(2*time.Hour))
	assert.Equal(t, 30*time.Minute, IntervalFor(24*time.Hour))
	assert.Equal(t, 24*time.Hour, IntervalFor(48*time.Hour))
	assert.Less(t, IntervalFor(time.Hour), IntervalFor(24*time.Hour))

	prev := time.Duration(0)
	for limit := time.Minute; limit <= 72*time.Hour; limit += 17 * time.Minute {
		got := IntervalFor(limit)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestFormatEvents(t *testing.T) {
	assert.Equal(t, "(no events yet)", FormatEvents(nil, 30))

	evs := []events.Event{
		{Type: events.TypeReasoning, Payload: map[string]any{"action_type": "send_email", "reasoning": "reach out", "result": map[string]any{"status": "sent"}}},
		{Type: events.TypeStatus, Payload: map[string]any{"step": 4, "status": "thinking"}},
		{Type: events.TypePayment, Payload: map[string]any{"amount": "5"}},
		{Type: events.TypeScreenshot, Payload: map[string]any{"url": "x"}},
	}
	lines := strings.Split(FormatEvents(evs, 30), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `[reasoning] send_email: reach out -> {"status":"sent"}`, lines[0])
	assert.Equal(t, "[status] step=4 thinking", lines[1])
	assert.Equal(t, `[payment] {"amount":"5"}`, lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "[screenshot] "))

	assert.Len(t, strings.Split(FormatEvents(evs, 2), "\n"), 2)
}

func TestBuildPromptCarriesGoalAndTime(t *testing.T) {
	run := Run{ID: "r1", Goal: "Get 100 followers", GoalType: "follower_count", TargetValue: 100, TimeLimit: 2 * time.Hour, VerificationHint: "check profile"}
	prompt := BuildPrompt(run, nil, 30*time.Minute, 30)
	for _, want := range []string{"Goal description: Get 100 followers", "Goal type: follower_count", "Target value: 100", "Verification hint: check profile", "Time elapsed: 30 minutes of 120 total", "(no events yet)"} {
		assert.Contains(t, prompt, want)
	}
}

func TestLLMJudgeEvaluate(t *testing.T) {
	c := &stubCompleter{resp: `{"progress_pct": 80, "evidence": ["a"], "goal_achieved": true, "reasoning": "ok"}`}
	j, err := NewLLMJudge(c, 0)
	require.NoError(t, err)
	v, err := j.Evaluate(context.Background(), Run{ID: "r1", Goal: "g"}, nil, time.Minute)
	require.NoError(t, err)
	assert.True(t, v.GoalAchieved)
	assert.Equal(t, systemPrompt, c.system)
}

func TestSchedulerIsolatesFailuresAndAppliesVerdicts(t *testing.T) {
	backend := newStubBackend(
		Run{ID: "good", Goal: "g", TargetValue: 200, TimeLimit: time.Hour},
		Run{ID: "bad", Goal: "g", TargetValue: 50, TimeLimit: time.Hour},
		Run{ID: "done", Goal: "g", TargetValue: 10, TimeLimit: time.Hour},
	)
	eval := evaluatorFunc(func(_ context.Context, run Run, _ []events.Event, _ time.Duration) (Verdict, error) {
		switch run.ID {
		case "bad":
			return Verdict{}, xerrors.New(CodeInvalidVerdict, "garbage")
		case "done":
			return Verdict{ProgressPct: 100, GoalAchieved: true}, nil
		default:
			return Verdict{ProgressPct: 25}, nil
		}
	})
	s := NewScheduler(backend, eval)
	s.RunOnce(context.Background())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 50.0, backend.progress["good"])
	_, touched := backend.progress["bad"]
	assert.False(t, touched, "rejected verdict must not write progress")
	assert.Equal(t, 10.0, backend.progress["done"])
	assert.Equal(t, events.OutcomeSuccess, backend.completed["done"])
	assert.NotContains(t, backend.completed, "good")
}

func TestSchedulerRespectsInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := newStubBackend(Run{ID: "r1", TargetValue: 100, TimeLimit: time.Hour})
	var calls int
	eval := evaluatorFunc(func(context.Context, Run, []events.Event, time.Duration) (Verdict, error) {
		calls++
		return Verdict{}, errors.New("judge down")
	})
	s := NewScheduler(backend, eval, WithSchedulerClock(func() time.Time { return now }))

	s.RunOnce(context.Background())
	now = now.Add(time.Minute)
	s.RunOnce(context.Background())
	assert.Equal(t, 1, calls, "failed attempt still waits a full interval")
	now = now.Add(90 * time.Second)
	s.RunOnce(context.Background())
	assert.Equal(t, 2, calls)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	backend := newStubBackend()
	s := NewScheduler(backend, evaluatorFunc(func(context.Context, Run, []events.Event, time.Duration) (Verdict, error) {
		return Verdict{}, nil
	}), WithTick(10*time.Millisecond))

	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.listCalls > 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	backend.mu.Lock()
	calls := backend.listCalls
	backend.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, calls, backend.listCalls, "no ticks after Stop")
}

type stubCompleter struct {
	resp   string
	err    error
	system string
}

func (s *stubCompleter) Complete(_ context.Context, system, _ string) (string, error) {
	s.system = system
	return s.resp, s.err
}

type evaluatorFunc func(ctx context.Context, run Run, evs []events.Event, elapsed time.Duration) (Verdict, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, run Run, evs []events.Event, elapsed time.Duration) (Verdict, error) {
	return f(ctx, run, evs, elapsed)
}

type stubBackend struct {
	mu        sync.Mutex
	runs      []Run
	progress  map[string]float64
	completed map[string]events.Outcome
	listCalls int
}

func newStubBackend(runs ...Run) *stubBackend {
	return &stubBackend{runs: runs, progress: map[string]float64{}, completed: map[string]events.Outcome{}}
}

func (b *stubBackend) ActiveRuns(context.Context) ([]Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]Run(nil), b.runs...), nil
}

func (b *stubBackend) ListEvents(context.Context, string, int) ([]events.Event, error) {
	return nil, nil
}

func (b *stubBackend) UpdateProgress(_ context.Context, runID string, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[runID] = value
	return nil
}

func (b *stubBackend) Complete(_ context.Context, runID string, outcome events.Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed[runID] = outcome
	return nil
}
