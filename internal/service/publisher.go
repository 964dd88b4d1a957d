// Package service holds outbound integrations used by the HTTP handlers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/room-reservation/internal/queue"
)

// EventPublisher publishes reservation events.  Handlers depend on this
// interface so tests can record events without a broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// NopPublisher discards events.  It is used when EVENTS_ENABLED=false.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.ReservationEvent) error { return nil }

// AMQPPublisher sends events to a durable RabbitMQ queue.  The connection
// is opened lazily and reopened after the broker closes it.
type AMQPPublisher struct {
	url   string
	queue string
	log   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for url.  An empty queue name
// selects queue.DefaultQueue.
func NewAMQPPublisher(url, queueName string, log *slog.Logger) *AMQPPublisher {
	if queueName == "" {
		queueName = queue.DefaultQueue
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{url: url, queue: queueName, log: log}
}

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned; callers are expected to ignore them.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.log.WarnContext(ctx, "rabbitmq unavailable", slog.Any("err", err))
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.log.WarnContext(ctx, "rabbitmq publish failed", slog.String("event", ev.ID), slog.Any("err", err))
		p.reset()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// PublishAsync publishes ev in the background with its own deadline so a
// slow broker never delays the response and a finished request never
// cancels the publish.
func PublishAsync(ctx context.Context, p EventPublisher, ev queue.ReservationEvent) {
	if p == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		pctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		_ = p.Publish(pctx, ev)
	}()
}
