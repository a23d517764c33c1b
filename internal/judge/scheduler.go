package judge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"Agent-Arena/internal/events"
	"Agent-Arena/internal/observability/metrics"
	"Agent-Arena/pkg/logger"
)

const (
	// DefaultTick is how often the scheduler looks for runs that are due.
	DefaultTick = 30 * time.Second
	// DefaultFetchLimit is how many recent events are fetched per evaluation.
	DefaultFetchLimit = 50
	// DefaultTimeLimit applies to runs that carry no time budget.
	DefaultTimeLimit = 2 * time.Hour
	// DefaultTarget applies to runs that carry no target value.
	DefaultTarget = 100.0
)

// Backend is the external progress store the scheduler reads and corrects.
type Backend interface {
	ActiveRuns(ctx context.Context) ([]Run, error)
	ListEvents(ctx context.Context, runID string, limit int) ([]events.Event, error)
	UpdateProgress(ctx context.Context, runID string, value float64) error
	Complete(ctx context.Context, runID string, outcome events.Outcome) error
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick overrides the scheduler period.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithFetchLimit overrides how many events are fetched per run.
func WithFetchLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// WithEvaluationTimeout bounds each evaluation.
func WithEvaluationTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSchedulerClock overrides time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedulerLogger overrides the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler periodically judges every active run whose interval has elapsed.
// It shares no state with agent loops; everything flows through Backend.
type Scheduler struct {
	backend    Backend
	evaluator  Evaluator
	tick       time.Duration
	fetchLimit int
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu         sync.Mutex
	lastJudged map[string]time.Time
	startTimes map[string]time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler builds a scheduler.
func NewScheduler(backend Backend, evaluator Evaluator, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		backend:    backend,
		evaluator:  evaluator,
		tick:       DefaultTick,
		fetchLimit: DefaultFetchLimit,
		timeout:    time.Minute,
		now:        time.Now,
		logger:     logger.Named("judge"),
		lastJudged: make(map[string]time.Time),
		startTimes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling it while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("judge scheduler started", "tick", s.tick.String())
}

// Stop cancels the loop and waits for the in-flight tick. Calling it when
// stopped is a no-op.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.logger.Info("judge scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce judges every due run once. One run's failure never affects another.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runs, err := s.backend.ActiveRuns(ctx)
	if err != nil {
		s.logger.Warn("list active runs failed", "error", err)
		return
	}
	now := s.now()
	var g errgroup.Group
	for _, run := range runs {
		if !s.due(run, now) {
			continue
		}
		g.Go(func() error {
			s.judge(ctx, run, now)
			return nil
		})
	}
	_ = g.Wait()
	s.forgetInactive(runs)
}

// due records first sight of a run and reports whether its interval elapsed.
// The attempt time is stamped here so a failed evaluation waits a full
// interval before retrying.
func (s *Scheduler) due(run Run, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.startTimes[run.ID]; !ok {
		start := run.CreatedAt
		if start.IsZero() {
			start = now
		}
		s.startTimes[run.ID] = start
	}
	last, judged := s.lastJudged[run.ID]
	if judged && now.Sub(last) < IntervalFor(timeLimitOf(run)) {
		return false
	}
	s.lastJudged[run.ID] = now
	return true
}

func (s *Scheduler) judge(ctx context.Context, run Run, now time.Time) {
	log := logger.ForRun(s.logger, run.ID)
	evs, err := s.backend.ListEvents(ctx, run.ID, s.fetchLimit)
	if err != nil {
		log.Warn("fetch events for judging failed", "error", err)
		evs = nil
	}

	s.mu.Lock()
	start := s.startTimes[run.ID]
	s.mu.Unlock()
	if run.TimeLimit <= 0 {
		run.TimeLimit = DefaultTimeLimit
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	verdict, err := s.evaluator.Evaluate(evalCtx, run, evs, now.Sub(start))
	if err != nil {
		metrics.ObserveJudgeVerdict("rejected")
		log.Warn("judge evaluation discarded", "error", err)
		return
	}

	target := run.TargetValue
	if target <= 0 {
		target = DefaultTarget
	}
	progress := verdict.ProgressPct / 100 * target
	if err := s.backend.UpdateProgress(ctx, run.ID, progress); err != nil {
		metrics.ObserveJudgeVerdict("failed")
		log.Warn("push judge progress failed", "error", err)
	} else {
		metrics.ObserveJudgeVerdict("applied")
	}
	logger.Audit().Info("judge verdict applied", "run_id", run.ID, "progress_pct", verdict.ProgressPct,
		"progress", progress, "goal_achieved", verdict.GoalAchieved, "reasoning", clip(verdict.Reasoning, 100))

	if verdict.GoalAchieved {
		if err := s.backend.Complete(ctx, run.ID, events.OutcomeSuccess); err != nil {
			log.Warn("complete run after judge verdict failed", "error", err)
			return
		}
		metrics.ObserveJudgeVerdict("achieved")
		log.Info("judge marked run completed")
	}
}

func (s *Scheduler) forgetInactive(active []Run) {
	keep := make(map[string]struct{}, len(active))
	for _, r := range active {
		keep[r.ID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.startTimes {
		if _, ok := keep[id]; !ok {
			delete(s.startTimes, id)
			delete(s.lastJudged, id)
		}
	}
}

func timeLimitOf(run Run) time.Duration {
	if run.TimeLimit <= 0 {
		return DefaultTimeLimit
	}
	return run.TimeLimit
}
