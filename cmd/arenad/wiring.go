package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"Agent-Arena/internal/api"
	"Agent-Arena/internal/config"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/judge"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/llm/router"
	"Agent-Arena/internal/memory"
	"Agent-Arena/internal/orchestrator"
	"Agent-Arena/internal/run"
	redisstore "Agent-Arena/internal/storage/redis"
	"Agent-Arena/internal/storage/sqlstore"
	"Agent-Arena/internal/web3/provider"
	"Agent-Arena/pkg/logger"
)

// runtime holds the process-wide dependencies and what must be closed.
type runtime struct {
	cfg     *config.Config
	store   run.Store
	log     events.Log
	inbox   events.Inbox
	bridge  *events.Bridge
	router  *router.Router
	pingers []api.Pinger
	closers []func() error
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}

// newRuntime opens storage, the prompt inbox and live publishers.
func newRuntime(ctx context.Context, cfg *config.Config, forceMemory bool) (*runtime, error) {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	rt := &runtime{cfg: cfg, router: newRouter(cfg.LLM)}

	driver := cfg.Storage.Driver
	if forceMemory {
		driver = "memory"
	}
	switch driver {
	case "memory":
		mem := events.NewMemoryStore()
		rt.store, rt.log, rt.inbox = run.NewMemoryStore(), mem, mem
	default:
		db, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:          driver,
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
			AutoMigrate:     cfg.Storage.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		rt.pingers = append(rt.pingers, db)
		rt.store, rt.log, rt.inbox = db, db, db
	}

	if cfg.Prompts.Driver == "redis" && !forceMemory {
		inbox, err := redisstore.NewPromptInbox(ctx, redisstore.Config{
			Address:  cfg.Prompts.Redis.Address,
			Password: cfg.Prompts.Redis.Password,
			DB:       cfg.Prompts.Redis.DB,
			Prefix:   cfg.Prompts.Redis.Key,
		})
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, inbox.Close)
		rt.inbox = inbox
	}

	publishers := []events.Publisher{events.NewLogPublisher(logger.Named("events"))}
	if cfg.Events.AMQP.URL != "" && !forceMemory {
		pub, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.Events.AMQP.URL, Exchange: cfg.Events.AMQP.Exchange})
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pub.Close)
		publishers = append(publishers, pub)
	}

	bridge, err := events.NewBridge(rt.log, rt.store, events.WithInbox(rt.inbox), events.WithPublishers(publishers...))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.bridge = bridge
	return rt, nil
}

func newRouter(cfg config.LLMConfig) *router.Router {
	conv := func(p config.ProviderConfig) router.ProviderConfig {
		return router.ProviderConfig{APIKey: p.APIKey, BaseURL: p.BaseURL, Timeout: p.Timeout, Cost: p.Cost}
	}
	return router.New(router.Credentials{
		Anthropic: conv(cfg.Anthropic),
		OpenAI:    conv(cfg.OpenAI),
		Gemini:    conv(cfg.Gemini),
	})
}

// newLauncher builds the per-run launcher over the runtime.
func (rt *runtime) newLauncher() (*orchestrator.Launcher, error) {
	var registry *provider.Registry
	if rt.cfg.Tools.Payments.Driver == "evm" {
		reg, err := provider.NewRegistry(rt.cfg.Web3)
		if err != nil {
			return nil, err
		}
		registry = reg
	}
	mem, err := memory.NewLocalStore(0, 0)
	if err != nil {
		return nil, err
	}
	resolve := func(model string) ([]llm.Provider, error) { return rt.router.Resolve(model) }
	return orchestrator.NewLauncher(resolve, rt.store, rt.bridge,
		orchestrator.WithToolFactory(orchestrator.NewToolFactory(rt.cfg.Tools, registry)),
		orchestrator.WithMemory(mem),
		orchestrator.WithSettings(orchestrator.SettingsFrom(rt.cfg.Agent)),
		orchestrator.WithVerifierConfig(rt.cfg.Verifier),
	)
}

// newScheduler builds the judge over the runtime.
func (rt *runtime) newScheduler() (*judge.Scheduler, error) {
	completer, err := rt.router.Completer(rt.cfg.Judge.Model)
	if err != nil {
		return nil, err
	}
	evaluator, err := judge.NewLLMJudge(completer, rt.cfg.Judge.MaxEvents)
	if err != nil {
		return nil, err
	}
	return judge.NewScheduler(orchestrator.NewJudgeBackend(rt.store, rt.bridge), evaluator,
		judge.WithTick(rt.cfg.Judge.Tick),
		judge.WithFetchLimit(rt.cfg.Judge.FetchLimit),
		judge.WithEvaluationTimeout(rt.cfg.Judge.Timeout),
	), nil
}

// newQueue opens the configured run queue.
func newQueue(ctx context.Context, cfg config.QueueConfig) (run.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Buffer, run.WithMaxAttempts(cfg.MaxAttempts)), nil
	case "redis":
		q, err := run.NewRedisQueue(ctx, run.RedisQueueConfig{
			Address:     cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Key:         cfg.Redis.Key,
			MaxAttempts: cfg.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		q, err := run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:         cfg.RabbitMQ.URL,
			Queue:       cfg.RabbitMQ.Queue,
			Prefetch:    cfg.RabbitMQ.Prefetch,
			MaxAttempts: cfg.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

func shutdownLog(log *slog.Logger, what string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(what+" stopped with error", "error", err)
	}
}

const drainTimeout = 30 * time.Second

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
