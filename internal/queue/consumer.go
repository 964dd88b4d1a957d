package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads reservation events from the broker and appends one line
// per event to Out.  In production Out is a rotating lumberjack logger.
type Consumer struct {
	URL   string
	Queue string
	Out   io.Writer
	Log   *slog.Logger

	mu sync.Mutex
}

// Run connects, declares the durable queue and consumes until ctx is
// cancelled.  Connection failures are retried with exponential backoff
// capped at 30s.  Messages that cannot be decoded are rejected without
// requeue so a poison message cannot spin the loop.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.logger()
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warn("reservation consumer dial failed", slog.Any("err", err), slog.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("reservation consumer loop ended, reconnecting", slog.Any("err", err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger().Warn("reservation consumer qos failed", slog.Any("err", err))
	}
	if _, err := ch.QueueDeclare(c.queue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue(), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				c.logger().Error("reservation event rejected", slog.Any("err", err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event and writes its log line.
func (c *Consumer) HandleMessage(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ReservationID == 0 || ev.Type == "" {
		return fmt.Errorf("incomplete event %q", ev.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.Out, ev.LogLine()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func (c *Consumer) queue() string {
	if c.Queue == "" {
		return DefaultQueue
	}
	return c.Queue
}

func (c *Consumer) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
