package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/memory"
	"Agent-Arena/internal/observability/metrics"
	"Agent-Arena/internal/policy"
	"Agent-Arena/internal/tools"
	"Agent-Arena/internal/verifier"
	"Agent-Arena/pkg/logger"
)

// State is the loop's lifecycle state. Every state but StateRunning is
// terminal.
type State string

const (
	StateRunning       State = "RUNNING"
	StateStoppedBudget State = "STOPPED_BUDGET"
	StateStoppedGoal   State = "STOPPED_GOAL"
	StateStoppedTime   State = "STOPPED_TIME"
	StateStoppedSelf   State = "STOPPED_SELF"
)

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool { return s != StateRunning }

const (
	ingestedPromptCacheSize = 1024
	memorySnippetLimit      = 200
	actionSummaryLimit      = 120
	closeTimeout            = 30 * time.Second
)

// GoalTracker is the goal verifier as the loop sees it.
type GoalTracker interface {
	Poll(ctx context.Context) float64
	GoalAchieved() bool
	TimeExpired() bool
	RemainingSeconds() float64
	Snapshot() verifier.State
}

var _ GoalTracker = (*verifier.Verifier)(nil)

// Deps are the collaborators of one loop. Providers, Sink and Goal are
// required; a nil tool makes its actions fail with an error result.
type Deps struct {
	Providers []llm.Provider
	Browser   tools.Browser
	Mailer    tools.Mailer
	Payments  tools.Payments
	Memory    memory.Service
	Sink      events.Sink
	Goal      GoalTracker
	Policy    policy.Evaluator
}

// Option customises an Agent.
type Option func(*Agent)

// WithSettings overrides the loop tunables. Unset fields keep their defaults.
func WithSettings(s Settings) Option {
	return func(a *Agent) {
		a.settings = s.merge()
	}
}

// WithLogger overrides the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// Agent is one run's control loop. Conversation, history and credits are
// only touched by the goroutine that calls Run.
type Agent struct {
	cfg      RunConfig
	deps     Deps
	settings Settings
	logger   *slog.Logger

	chain    *Chain
	conv     *llm.Conversation
	history  *History
	ingested *lru.Cache[string, struct{}]
	limiter  *rate.Limiter

	credits decimal.Decimal
	state   State
	step    int

	started      atomic.Bool
	completeOnce sync.Once
}

// New validates the run configuration and collaborators. Any error it
// returns is fatal: the run cannot start.
func New(cfg RunConfig, deps Deps, opts ...Option) (*Agent, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "event sink is required")
	}
	if deps.Goal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "goal verifier is required")
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewKeywordMatcher()
	}

	a := &Agent{
		cfg:      cfg,
		deps:     deps,
		settings: DefaultSettings(),
		logger:   logger.Named("agent"),
		credits:  decimal.NewFromFloat(cfg.StartingCredits()),
		state:    StateRunning,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logger.ForRun(a.logger, cfg.RunID)

	chain, err := NewChain(deps.Providers, a.settings.ThinkTimeout, a.logger)
	if err != nil {
		return nil, err
	}
	ingested, err := lru.New[string, struct{}](ingestedPromptCacheSize)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create prompt cache")
	}
	a.chain = chain
	a.ingested = ingested
	a.conv = llm.NewConversation(a.settings.MaxTurns)
	a.history = NewHistory(HistoryCapacity)
	a.limiter = rate.NewLimiter(rate.Inf, 1)
	if a.settings.TickDelay > 0 {
		a.limiter = rate.NewLimiter(rate.Every(a.settings.TickDelay), 1)
	}
	return a, nil
}

// State returns the current lifecycle state.
func (a *Agent) State() State { return a.state }

// Credits returns the remaining budget.
func (a *Agent) Credits() decimal.Decimal { return a.credits }

// Steps returns how many ticks have run.
func (a *Agent) Steps() int { return a.step }

// History returns the recorded actions, oldest first.
func (a *Agent) History() []ActionRecord { return a.history.Records() }

// Turns returns a copy of the conversation.
func (a *Agent) Turns() []llm.Turn { return a.conv.Turns() }

// Run drives the loop until a terminal state is reached or ctx is cancelled.
// On every exit path the live-URL poller is stopped, the tools are closed and
// the run is completed exactly once. Run may only be called once.
func (a *Agent) Run(ctx context.Context) (State, error) {
	if !a.started.CompareAndSwap(false, true) {
		return a.state, xerrors.New(xerrors.CodeConflict, "agent loop already started")
	}
	metrics.RunStarted()
	logger.Audit().Info("run started", "run_id", a.cfg.RunID, "goal_type", string(a.cfg.GoalType),
		"target", a.cfg.TargetValue, "credits", a.credits.String(), "providers", a.chain.Len())

	loopCtx, cancel := context.WithCancel(ctx)
	var pollers sync.WaitGroup
	pollers.Add(1)
	go func() {
		defer pollers.Done()
		a.pollLiveURL(loopCtx)
	}()
	defer a.finalize(ctx, cancel, &pollers)

	a.state = a.evaluate(nil)
	for !a.state.Terminal() {
		if err := a.limiter.Wait(loopCtx); err != nil {
			if ctxErr := loopCtx.Err(); ctxErr != nil {
				return a.state, ctxErr
			}
			return a.state, err
		}
		a.tick(loopCtx)
		if err := loopCtx.Err(); err != nil {
			return a.state, err
		}
	}
	return a.state, nil
}

func (a *Agent) tick(ctx context.Context) {
	a.step++
	step := a.step
	ctx, span := tracer.Start(ctx, "agent.tick")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", a.cfg.RunID), attribute.Int("step", step))

	obs := a.gather(ctx, step)
	suggestions := a.ingestPrompts(ctx, step, obs.prompts)
	hint := a.history.DetectLoop()
	if hint != "" {
		a.logger.Info("repeated action detected", "step", step)
	}

	a.conv.Append(llm.Turn{Role: llm.RoleUser, Content: buildUserPrompt(promptContext{
		Goal:         a.cfg.Goal,
		Constraints:  a.cfg.Constraints,
		Remaining:    time.Duration(a.deps.Goal.RemainingSeconds() * float64(time.Second)),
		State:        a.deps.Goal.Snapshot(),
		Balance:      obs.balance,
		MessageCount: len(obs.messages),
		Memory:       obs.memory,
		Suggestions:  suggestions,
		Recent:       a.history.Recent(recentActions),
		StuckHint:    hint,
	})})

	a.push(ctx, events.TypeStatus, map[string]any{"step": step, "status": "thinking"})
	decision := a.chain.Think(ctx, llm.Request{System: SystemPrompt, Turns: a.conv.Turns()})
	a.conv.Append(decision.AssistantTurn())

	a.push(ctx, events.TypeStatus, map[string]any{
		"step":           step,
		"status":         "executing",
		"action_type":    string(decision.ActionType),
		"action_summary": summarize(decision.Action, actionSummaryLimit),
	})
	result := a.act(ctx, step, decision)

	if decision.ToolCallID != "" {
		a.conv.Append(llm.Turn{
			Role:       llm.RoleToolResult,
			Content:    clip(encodeResult(result), a.settings.ToolResultLimit),
			Provider:   decision.Provider,
			ToolCallID: decision.ToolCallID,
			ToolName:   string(decision.ActionType),
		})
	}

	a.remember(ctx, step, decision, result)
	a.history.Add(ActionRecord{
		ActionType: decision.ActionType,
		Action:     decision.Action.Clone(),
		Result:     result,
		Reasoning:  decision.Reasoning,
	})

	progress := a.verify(ctx)
	a.push(ctx, events.TypeReasoning, map[string]any{
		"reasoning":    decision.Reasoning,
		"action":       map[string]any(decision.Action),
		"action_type":  string(decision.ActionType),
		"result":       map[string]any(result),
		"progress":     progress,
		"credits_used": decision.Cost,
	})
	if err := a.deps.Sink.UpdateProgress(ctx, a.cfg.RunID, progress); err != nil {
		a.logger.Warn("update progress failed", "step", step, "error", err)
	}

	a.credits = a.credits.Sub(decimal.NewFromFloat(decision.Cost))
	a.state = a.evaluate(decision)

	metrics.ObserveTick(string(decision.ActionType), result.Status())
	span.SetAttributes(attribute.String("action_type", string(decision.ActionType)), attribute.String("result", result.Status()))
	a.logger.Info("tick finished", "step", step, "provider", decision.Provider, "action_type", string(decision.ActionType),
		"status", result.Status(), "progress", progress, "credits", a.credits.String(), "state", string(a.state))
}

// evaluate applies the termination conditions in priority order: self stop,
// budget, goal, time. decision is nil before the first tick.
func (a *Agent) evaluate(decision *llm.Decision) State {
	switch {
	case decision != nil && decision.ShouldStop():
		return StateStoppedSelf
	case a.credits.Sign() <= 0:
		return StateStoppedBudget
	case a.deps.Goal.GoalAchieved():
		return StateStoppedGoal
	case a.deps.Goal.TimeExpired():
		return StateStoppedTime
	default:
		return StateRunning
	}
}

// ingestPrompts stores each new user prompt in memory once and acknowledges
// it upstream. It returns the texts to show in this tick's prompt.
func (a *Agent) ingestPrompts(ctx context.Context, step int, prompts []events.Prompt) []string {
	texts := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		if !a.ingested.Contains(p.ID) {
			if err := a.addMemory(ctx, "User suggestion: "+p.Text, memory.TagUserPrompt); err != nil {
				a.logger.Warn("store user prompt failed", "step", step, "prompt_id", p.ID, "error", err)
			} else {
				a.ingested.Add(p.ID, struct{}{})
				logger.Audit().Info("user prompt ingested", "run_id", a.cfg.RunID, "prompt_id", p.ID)
			}
		}
		if err := a.deps.Sink.AcknowledgePrompt(ctx, p.ID); err != nil {
			a.logger.Warn("acknowledge prompt failed", "step", step, "prompt_id", p.ID, "error", err)
		}
	}
	return texts
}

func (a *Agent) remember(ctx context.Context, step int, d *llm.Decision, result tools.Result) {
	content := fmt.Sprintf("Action: %s %s Result: %s", d.ActionType,
		summarize(d.Action, memorySnippetLimit), clip(encodeResult(result), memorySnippetLimit))
	if err := a.addMemory(ctx, content, memory.TagAction); err != nil {
		a.logger.Warn("store action memory failed", "step", step, "error", err)
	}
}

func (a *Agent) addMemory(ctx context.Context, content, tag string) error {
	if a.deps.Memory == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.settings.GatherTimeout)
	defer cancel()
	return a.deps.Memory.Add(ctx, content, a.cfg.RunID, tag)
}

func (a *Agent) verify(ctx context.Context) float64 {
	ctx, cancel := context.WithTimeout(ctx, a.settings.VerifyTimeout)
	defer cancel()
	return a.deps.Goal.Poll(ctx)
}

func (a *Agent) push(ctx context.Context, typ events.Type, payload map[string]any) {
	if err := a.deps.Sink.Push(ctx, a.cfg.RunID, typ, payload); err != nil {
		a.logger.Warn("push event failed", "event_type", string(typ), "error", err)
	}
}

// pollLiveURL publishes the browser's live view once it becomes available.
// The first non-empty URL wins and ends polling.
func (a *Agent) pollLiveURL(ctx context.Context) {
	if a.deps.Browser == nil {
		return
	}
	for attempt := 0; attempt < a.settings.LiveURLAttempts; attempt++ {
		url, err := bounded(ctx, a.settings.LiveURLInterval, a.deps.Browser.LiveURL)
		switch {
		case err != nil:
			a.logger.Debug("live url not ready", "attempt", attempt+1, "error", err)
		case url != "":
			a.push(ctx, events.TypeStatus, map[string]any{"status": "live", "live_url": url})
			a.logger.Info("live url published", "live_url", url)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.settings.LiveURLInterval):
		}
	}
}

// finalize stops background work, releases tool sessions and completes the
// run. It runs on every exit path of Run.
func (a *Agent) finalize(parent context.Context, cancel context.CancelFunc, pollers *sync.WaitGroup) {
	cancel()
	pollers.Wait()

	ctx, done := context.WithTimeout(context.WithoutCancel(parent), closeTimeout)
	defer done()
	a.closeTools(ctx)
	a.complete(ctx)

	reason := string(a.state)
	if !a.state.Terminal() {
		reason = "cancelled"
	}
	metrics.RunFinished(reason)
}

func (a *Agent) closeTools(ctx context.Context) {
	closers := map[string]tools.Closer{}
	if a.deps.Browser != nil {
		closers["browser"] = a.deps.Browser
	}
	if c, ok := a.deps.Mailer.(tools.Closer); ok {
		closers["email"] = c
	}
	if c, ok := a.deps.Payments.(tools.Closer); ok {
		closers["payments"] = c
	}
	for name, c := range closers {
		if err := c.Close(ctx); err != nil {
			a.logger.Warn("close tool failed", "tool", name, "error", err)
		}
	}
}

// complete reports the terminal outcome. Only the first call has an effect.
func (a *Agent) complete(ctx context.Context) {
	a.completeOnce.Do(func() {
		outcome := events.OutcomeFailed
		if a.deps.Goal.GoalAchieved() {
			outcome = events.OutcomeSuccess
		}
		if err := a.deps.Sink.Complete(ctx, a.cfg.RunID, outcome); err != nil {
			a.logger.Warn("complete run failed", "outcome", string(outcome), "error", err)
		}
		logger.Audit().Info("agent loop finished", "run_id", a.cfg.RunID, "state", string(a.state),
			"outcome", string(outcome), "steps", a.step, "credits_left", a.credits.String())
	})
}

func encodeResult(res tools.Result) string {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprint(map[string]any(res))
	}
	return string(raw)
}
