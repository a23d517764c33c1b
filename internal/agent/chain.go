package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/observability/metrics"
)

var tracer = otel.Tracer("Agent-Arena/internal/agent")

// Chain calls providers in order and acts on the first answer.
type Chain struct {
	providers []llm.Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewChain wraps an ordered provider list. Each call is bounded by timeout
// when it is positive.
func NewChain(providers []llm.Provider, timeout time.Duration, logger *slog.Logger) (*Chain, error) {
	if len(providers) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no model provider could be constructed")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, timeout: timeout, logger: logger}, nil
}

// Len returns the number of providers.
func (c *Chain) Len() int { return len(c.providers) }

// Think returns the first provider's decision that succeeds. Later providers
// are not called. When every provider fails it returns the uncharged
// exhaustion decision; it never returns nil.
func (c *Chain) Think(ctx context.Context, req llm.Request) *llm.Decision {
	errs := make([]error, 0, len(c.providers))
	for _, p := range c.providers {
		decision, err := c.call(ctx, p, req)
		if err == nil {
			return decision
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	c.logger.Error("all providers failed", "attempts", len(errs))
	return llm.Exhausted(errs)
}

func (c *Chain) call(ctx context.Context, p llm.Provider, req llm.Request) (*llm.Decision, error) {
	ctx, span := tracer.Start(ctx, "agent.think")
	defer span.End()
	span.SetAttributes(attribute.String("provider", p.Name()), attribute.Int("turns", len(req.Turns)))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	decision, err := p.Think(ctx, req)
	if err == nil && decision == nil {
		err = xerrors.New(llm.CodeProviderProtocol, "provider returned no decision")
	}
	metrics.ObserveThink(p.Name(), time.Since(start), err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if decision.Provider == "" {
		decision.Provider = p.Name()
	}
	span.SetAttributes(attribute.String("action_type", string(decision.ActionType)))
	return decision, nil
}
