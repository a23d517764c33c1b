package agent

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"Agent-Arena/internal/events"
	"Agent-Arena/internal/memory"
	"Agent-Arena/internal/tools"
)

// observation is the joined result of one tick's context gathers. A failed
// gather leaves its field at the zero value.
type observation struct {
	messages []tools.Message
	balance  decimal.Decimal
	prompts  []events.Prompt
	memory   []memory.Hit
}

// gather runs the four context reads concurrently, each under its own
// timeout, and joins them.
func (a *Agent) gather(ctx context.Context, step int) observation {
	var (
		obs observation
		g   errgroup.Group
	)
	timeout := a.settings.GatherTimeout
	log := a.logger.With("step", step)

	if a.deps.Mailer != nil {
		g.Go(func() error {
			msgs, err := bounded(ctx, timeout, a.deps.Mailer.CheckInbox)
			if err != nil {
				log.Warn("check inbox failed", "error", err)
				return nil
			}
			obs.messages = msgs
			return nil
		})
	}
	if a.deps.Payments != nil {
		g.Go(func() error {
			bal, err := bounded(ctx, timeout, a.deps.Payments.Balance)
			if err != nil {
				log.Warn("read balance failed", "error", err)
				return nil
			}
			obs.balance = bal
			return nil
		})
	}
	g.Go(func() error {
		prompts, err := bounded(ctx, timeout, func(ctx context.Context) ([]events.Prompt, error) {
			return a.deps.Sink.FetchPendingPrompts(ctx, a.cfg.RunID)
		})
		if err != nil {
			log.Warn("fetch pending prompts failed", "error", err)
			return nil
		}
		obs.prompts = prompts
		return nil
	})
	if a.deps.Memory != nil {
		g.Go(func() error {
			hits, err := bounded(ctx, timeout, func(ctx context.Context) ([]memory.Hit, error) {
				return a.deps.Memory.Search(ctx, "strategies for "+string(a.cfg.GoalType), a.cfg.RunID, a.settings.MemoryK)
			})
			if err != nil {
				log.Warn("memory search failed", "error", err)
				return nil
			}
			obs.memory = hits
			return nil
		})
	}
	_ = g.Wait()
	return obs
}

// bounded runs fn under a timeout and stops waiting once it expires, even if
// fn ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
