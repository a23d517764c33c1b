package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"Agent-Arena/pkg/logger"
)

// AMQPConfig describes the exchange live events are fanned out on.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes every event as JSON to a fanout exchange with the
// run id as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is empty")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "arena.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Name implements Publisher.
func (p *AMQPPublisher) Name() string { return "amqp" }

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher not initialised")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// amqp channels are not safe for concurrent publishers
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, event.RunID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.CreatedAt,
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher writes every event to a logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher on l, or the events logger when nil.
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Named("events")
	}
	return &LogPublisher{logger: l}
}

// Name implements Publisher.
func (p *LogPublisher) Name() string { return "log" }

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.LogAttrs(ctx, slog.LevelInfo, "event",
		slog.String("run_id", event.RunID),
		slog.String("event_type", string(event.Type)),
		slog.String("payload", event.PayloadJSON()),
	)
	return nil
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
