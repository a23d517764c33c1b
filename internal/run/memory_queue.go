package run

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"Agent-Arena/pkg/logger"
)

// MemoryQueue is a channel-backed queue for tests and single-process use.
type MemoryQueue struct {
	ch          chan Ticket
	maxAttempts int
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// MemoryQueueOption customises a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithMaxAttempts caps deliveries per submission.
func WithMaxAttempts(n int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// NewMemoryQueue creates a queue buffering up to size tickets.
func NewMemoryQueue(size int, opts ...MemoryQueueOption) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	q := &MemoryQueue{
		ch:          make(chan Ticket, size),
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.Named("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Publish implements Producer. Close waits for in-flight publishes.
func (q *MemoryQueue) Publish(ctx context.Context, runID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("queue is closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- NewTicket(runID):
		return nil
	}
}

// offer requeues t without blocking a worker on a full buffer.
func (q *MemoryQueue) offer(t Ticket) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- t:
		return true
	default:
		return false
	}
}

// Consume implements Consumer. It blocks until ctx is done.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, t); err != nil && ctx.Err() == nil {
						redeliver(q.logger, t, q.maxAttempts, err, q.offer)
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close implements Producer and Consumer.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
