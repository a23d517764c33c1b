package run

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDecodeTicket(t *testing.T) {
	body, err := encodeTicket(Ticket{RunID: "r1", Attempt: 2, EnqueuedAt: 1000})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := decodeTicket(body)
	if !ok || got != (Ticket{RunID: "r1", Attempt: 2, EnqueuedAt: 1000}) {
		t.Fatalf("unexpected ticket %+v (ok=%v)", got, ok)
	}

	got, ok = decodeTicket([]byte(" r2 \n"))
	if !ok || got.RunID != "r2" || got.Attempt != 1 {
		t.Fatalf("bare run id must decode as a first attempt, got %+v", got)
	}

	for _, bad := range []string{"", "{", `{"attempt":2}`} {
		if _, ok := decodeTicket([]byte(bad)); ok {
			t.Fatalf("body %q must be rejected", bad)
		}
	}
}

func TestTicketRetryStopsAtLimit(t *testing.T) {
	first := NewTicket("r1")
	second, ok := first.retry(2)
	if !ok || second.Attempt != 2 || second.RunID != "r1" {
		t.Fatalf("unexpected retry %+v (ok=%v)", second, ok)
	}
	if _, ok := second.retry(2); ok {
		t.Fatal("attempt 2 of 2 must not be retried")
	}
	if waited := (Ticket{}).Waited(time.Now()); waited != 0 {
		t.Fatalf("ticket without enqueue time waited %v", waited)
	}
}

// attemptLog collects the tickets a handler saw.
type attemptLog struct {
	mu   sync.Mutex
	seen []Ticket
}

func (l *attemptLog) add(t Ticket) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, t)
	return len(l.seen)
}

func (l *attemptLog) attempts() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.seen))
	for _, t := range l.seen {
		out = append(out, t.Attempt)
	}
	return out
}

func waitForAttempts(t *testing.T, log *attemptLog, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(log.attempts()) < n {
		select {
		case <-deadline:
			t.Fatalf("expected %d deliveries, saw %v", n, log.attempts())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMemoryQueueRetriesFailedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(4)
	log := &attemptLog{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 1, func(_ context.Context, tk Ticket) error {
			if log.add(tk) < 3 {
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	if err := queue.Publish(ctx, "r1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForAttempts(t, log, 3)
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	got := log.attempts()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected attempts [1 2 3], got %v", got)
	}
}

func TestMemoryQueueDropsRunAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(4, WithMaxAttempts(2))
	log := &attemptLog{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 2, func(_ context.Context, tk Ticket) error {
			log.add(tk)
			return errors.New("claim failed")
		})
	}()

	if err := queue.Publish(ctx, "r1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForAttempts(t, log, 2)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := log.attempts(); len(got) != 2 {
		t.Fatalf("expected the run to be dropped after 2 deliveries, got %v", got)
	}
	if len(queue.ch) != 0 {
		t.Fatalf("dropped run still queued: %d", len(queue.ch))
	}
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "r1"); err == nil {
		t.Fatal("publish on a closed queue must fail")
	}
	if queue.offer(NewTicket("r1")) {
		t.Fatal("retry on a closed queue must be refused")
	}
}
