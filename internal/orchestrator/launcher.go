// Package orchestrator builds and hosts one agent loop per claimed run from
// the process-wide dependencies, and adapts the run store for the judge.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"Agent-Arena/internal/agent"
	"Agent-Arena/internal/config"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/memory"
	"Agent-Arena/internal/policy"
	"Agent-Arena/internal/run"
	"Agent-Arena/internal/verifier"
	"Agent-Arena/pkg/logger"
)

// DefaultWatchInterval is how often a hosted run's record is checked for a
// completion written by someone else, such as the judge.
const DefaultWatchInterval = 10 * time.Second

// ProviderResolver returns the fallback chain for a primary model key.
type ProviderResolver func(model string) ([]llm.Provider, error)

// Launcher implements run.Launcher.
type Launcher struct {
	resolve  ProviderResolver
	tools    ToolFactory
	store    run.Store
	sink     events.Sink
	memory   memory.Service
	policy   policy.Evaluator
	settings agent.Settings
	verifier config.VerifierConfig
	watch    time.Duration
	logger   *slog.Logger
}

// Option customises a Launcher.
type Option func(*Launcher)

// WithToolFactory replaces tool construction.
func WithToolFactory(f ToolFactory) Option {
	return func(l *Launcher) {
		if f != nil {
			l.tools = f
		}
	}
}

// WithMemory sets the memory service shared by every loop.
func WithMemory(m memory.Service) Option {
	return func(l *Launcher) { l.memory = m }
}

// WithPolicy overrides the constraint evaluator.
func WithPolicy(p policy.Evaluator) Option {
	return func(l *Launcher) { l.policy = p }
}

// WithSettings sets the loop tunables.
func WithSettings(s agent.Settings) Option {
	return func(l *Launcher) { l.settings = s }
}

// WithVerifierConfig sets the external signal sources.
func WithVerifierConfig(c config.VerifierConfig) Option {
	return func(l *Launcher) { l.verifier = c }
}

// WithWatchInterval overrides DefaultWatchInterval.
func WithWatchInterval(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.watch = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Launcher) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLauncher wires a launcher. The store must be the one sink writes
// progress to, since general goals read their progress back from it.
func NewLauncher(resolve ProviderResolver, store run.Store, sink events.Sink, opts ...Option) (*Launcher, error) {
	if resolve == nil || store == nil || sink == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "launcher needs a provider resolver, a run store and an event sink")
	}
	l := &Launcher{
		resolve:  resolve,
		tools:    func(context.Context, *run.Run) (Toolset, error) { return Toolset{}, nil },
		store:    store,
		sink:     sink,
		settings: agent.DefaultSettings(),
		watch:    DefaultWatchInterval,
		logger:   logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Launch builds the run's loop and blocks until it ends. A run completed by
// another writer while hosted stops its loop without an error.
func (l *Launcher) Launch(ctx context.Context, r *run.Run) (agent.State, error) {
	log := logger.ForRun(l.logger, r.ID)
	providers, err := l.resolve(r.Model)
	if err != nil {
		return "", err
	}
	toolset, err := l.tools(ctx, r)
	if err != nil {
		return "", err
	}

	goal, err := verifier.New(l.verifierConfig(r),
		verifier.WithPayments(toolset.Payments),
		verifier.WithMailer(toolset.Mailer),
		verifier.WithProgressReader(storeProgress{store: l.store}),
	)
	if err != nil {
		toolset.Close(context.WithoutCancel(ctx), log)
		return "", err
	}

	a, err := agent.New(r.Config(), agent.Deps{
		Providers: providers,
		Browser:   toolset.Browser,
		Mailer:    toolset.Mailer,
		Payments:  toolset.Payments,
		Memory:    l.memory,
		Sink:      l.sink,
		Goal:      goal,
		Policy:    l.policy,
	}, agent.WithSettings(l.settings), agent.WithLogger(l.logger))
	if err != nil {
		toolset.Close(context.WithoutCancel(ctx), log)
		return "", err
	}
	if f, ok := l.memory.(interface{ Forget(string) }); ok {
		defer f.Forget(r.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	finishedElsewhere := make(chan struct{})
	go l.watchRun(runCtx, r.ID, cancel, finishedElsewhere)

	state, err := a.Run(runCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		select {
		case <-finishedElsewhere:
			log.Info("run completed externally, loop stopped", "state", string(state))
			return state, nil
		default:
		}
	}
	return state, err
}

// watchRun cancels the loop once the run record turns terminal.
func (l *Launcher) watchRun(ctx context.Context, runID string, cancel context.CancelFunc, finished chan<- struct{}) {
	ticker := time.NewTicker(l.watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		current, err := l.store.Get(ctx, runID)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Debug("watch run failed", "run_id", runID, "error", err)
			}
			continue
		}
		if !current.Status.Active() {
			close(finished)
			cancel()
			return
		}
	}
}

func (l *Launcher) verifierConfig(r *run.Run) verifier.Config {
	start := time.Now()
	if r.StartedAt > 0 {
		start = time.Unix(r.StartedAt, 0)
	}
	return verifier.Config{
		RunID:         r.ID,
		GoalType:      r.GoalType,
		Target:        r.TargetValue,
		TimeLimit:     time.Duration(r.TimeLimit) * time.Second,
		StartTime:     start,
		Handle:        r.AccountHandle,
		Platform:      r.Platform,
		ContentURL:    r.ContentURL,
		SocialAPIURL:  l.verifier.SocialAPIURL,
		SocialAPIKey:  l.verifier.SocialAPIKey,
		ScrapeBaseURL: l.verifier.ScrapeBaseURL,
		Timeout:       l.verifier.Timeout,
	}
}

// SettingsFrom maps the agent config section onto loop settings.
func SettingsFrom(c config.AgentConfig) agent.Settings {
	return agent.Settings{
		MaxTurns:        c.MaxTurns,
		ToolResultLimit: c.ToolResultLimit,
		TickDelay:       c.TickDelay,
		ThinkTimeout:    c.ThinkTimeout,
		GatherTimeout:   c.GatherTimeout,
		ToolTimeout:     c.ToolTimeout,
		VerifyTimeout:   c.VerifyTimeout,
		MemoryK:         c.MemoryK,
		LiveURLAttempts: c.LiveURLAttempts,
		LiveURLInterval: c.LiveURLInterval,
	}
}

type storeProgress struct {
	store run.Store
}

func (s storeProgress) Progress(ctx context.Context, runID string) (float64, error) {
	r, err := s.store.Get(ctx, runID)
	if err != nil {
		return 0, err
	}
	return r.Progress, nil
}

var (
	_ run.Launcher            = (*Launcher)(nil)
	_ verifier.ProgressReader = storeProgress{}
)
