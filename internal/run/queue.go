package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"Agent-Arena/internal/observability/metrics"
	"Agent-Arena/pkg/logger"
)

// DefaultMaxAttempts bounds how many times one submission of a run is handed
// to a worker while its claim or launch keeps failing.
const DefaultMaxAttempts = 3

// Ticket is one queued delivery of a run.
type Ticket struct {
	RunID      string `json:"run_id"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// NewTicket returns the first delivery of runID.
func NewTicket(runID string) Ticket {
	return Ticket{RunID: runID, Attempt: 1, EnqueuedAt: time.Now().UnixMilli()}
}

// Waited reports how long t sat in the queue before now.
func (t Ticket) Waited(now time.Time) time.Duration {
	if t.EnqueuedAt <= 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(t.EnqueuedAt))
}

// retry returns the next delivery of t, or false once maxAttempts is used up.
func (t Ticket) retry(maxAttempts int) (Ticket, bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if t.Attempt >= maxAttempts {
		return t, false
	}
	return Ticket{RunID: t.RunID, Attempt: t.Attempt + 1, EnqueuedAt: time.Now().UnixMilli()}, true
}

func encodeTicket(t Ticket) ([]byte, error) {
	return json.Marshal(t)
}

// decodeTicket reads a queued body. A body that is not a JSON object is a bare
// run id on its first attempt.
func decodeTicket(body []byte) (Ticket, bool) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return Ticket{}, false
	}
	if !strings.HasPrefix(raw, "{") {
		return Ticket{RunID: raw, Attempt: 1}, true
	}
	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil || t.RunID == "" {
		return Ticket{}, false
	}
	if t.Attempt <= 0 {
		t.Attempt = 1
	}
	return t, true
}

// redeliver applies the retry policy after handler failed t. requeue puts the
// next attempt back on the queue and reports whether it was accepted.
func redeliver(log *slog.Logger, t Ticket, maxAttempts int, cause error, requeue func(Ticket) bool) {
	if next, ok := t.retry(maxAttempts); ok && requeue(next) {
		metrics.ObserveRedelivery("retried")
		log.Warn("run delivery failed, retrying", "run_id", t.RunID, "attempt", t.Attempt, "error", cause)
		return
	}
	metrics.ObserveRedelivery("dropped")
	logger.Audit().Error("run delivery dropped",
		slog.String("run_id", t.RunID),
		slog.Int("attempt", t.Attempt),
		slog.String("error", cause.Error()),
	)
}

// Handler processes one run delivery taken off a queue.
type Handler func(ctx context.Context, t Ticket) error

// Producer enqueues run ids.
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer feeds queued run deliveries to a handler. A handler error sends
// the run back for another attempt until the queue's attempt limit.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of a run queue.
type Queue interface {
	Producer
	Consumer
}
