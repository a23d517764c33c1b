package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"Agent-Arena/pkg/logger"
)

// attemptHeader carries Ticket.Attempt on a delivery for broker-side tooling.
const attemptHeader = "x-run-attempt"

// RabbitMQConfig describes the durable queue runs are published to.
type RabbitMQConfig struct {
	URL         string
	Queue       string
	Prefetch    int
	MaxAttempts int
}

// RabbitMQQueue is a run queue over RabbitMQ with manual acknowledgement. A
// failed delivery is acked and republished with the next attempt number; the
// last failed attempt is rejected without requeue so a dead-letter exchange,
// when the operator configured one, keeps it.
type RabbitMQQueue struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	maxAttempts int
	logger      *slog.Logger
}

// NewRabbitMQQueue dials the broker and declares the queue.
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "arena.runs"
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set rabbitmq qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue: %w", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, maxAttempts: maxAttempts, logger: logger.Named("queue")}, nil
}

// Publish implements Producer.
func (q *RabbitMQQueue) Publish(ctx context.Context, runID string) error {
	return q.publish(ctx, NewTicket(runID))
}

func (q *RabbitMQQueue) publish(ctx context.Context, t Ticket) error {
	if q == nil || q.ch == nil {
		return errors.New("rabbitmq queue is not initialised")
	}
	msg, err := ticketMessage(t)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
}

func ticketMessage(t Ticket) (amqp.Publishing, error) {
	body, err := encodeTicket(t)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode run ticket: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.RunID,
		Timestamp:    time.UnixMilli(t.EnqueuedAt),
		Headers:      amqp.Table{attemptHeader: int32(t.Attempt)},
		Body:         body,
	}, nil
}

// Consume implements Consumer.
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("rabbitmq queue is not initialised")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("subscribe rabbitmq queue: %w", err)
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.deliver(ctx, msg, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	t, ok := decodeTicket(msg.Body)
	if !ok {
		q.logger.Warn("discard unreadable run ticket", "message_id", msg.MessageId)
		_ = msg.Nack(false, false)
		return
	}
	err := handler(ctx, t)
	if err == nil {
		_ = msg.Ack(false)
		return
	}
	if ctx.Err() != nil {
		_ = msg.Nack(false, true)
		return
	}
	requeued := false
	redeliver(q.logger, t, q.maxAttempts, err, func(next Ticket) bool {
		requeued = q.publish(ctx, next) == nil
		return requeued
	})
	if requeued {
		_ = msg.Ack(false)
		return
	}
	_ = msg.Nack(false, false)
}

// Close implements Producer and Consumer.
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
