package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"Agent-Arena/pkg/logger"
)

// RedisQueueConfig describes the Redis list backing a queue.
type RedisQueueConfig struct {
	Address     string
	Password    string
	DB          int
	Key         string
	BlockWait   time.Duration
	MaxAttempts int
}

// RedisQueue is a run queue over a Redis list. Tickets are pushed on the
// left and popped on the right; a retry goes back on the right so it is
// taken next.
type RedisQueue struct {
	client      *redis.Client
	key         string
	wait        time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewRedisQueue connects and pings Redis.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{
		client:      client,
		key:         cfg.Key,
		wait:        cfg.BlockWait,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.Named("queue"),
	}
	if q.key == "" {
		q.key = "arena:runs"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	return q
}

// Publish implements Producer.
func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	body, err := encodeTicket(NewTicket(runID))
	if err != nil {
		return fmt.Errorf("encode run ticket: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("redis publish run: %w", err)
	}
	return nil
}

// Consume implements Consumer.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("redis take run: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				t, ok := decodeTicket([]byte(values[1]))
				if !ok {
					q.logger.Warn("discard unreadable run ticket", "body", values[1])
					continue
				}
				if err := handler(ctx, t); err != nil && ctx.Err() == nil {
					redeliver(q.logger, t, q.maxAttempts, err, func(next Ticket) bool {
						return q.requeue(ctx, next)
					})
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) requeue(ctx context.Context, t Ticket) bool {
	body, err := encodeTicket(t)
	if err != nil {
		return false
	}
	if err := q.client.RPush(ctx, q.key, body).Err(); err != nil {
		q.logger.Error("requeue run failed", "run_id", t.RunID, "error", err)
		return false
	}
	return true
}

// Close implements Producer and Consumer.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
