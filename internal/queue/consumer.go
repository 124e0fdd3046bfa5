package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tazhibayda/auth-api/internal/domain"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"go.uber.org/zap"
)

const prefetch = 50

// Handler processes one message body. Returning a Permanent error drops the
// message; any other error requeues it once.
type Handler func(ctx context.Context, body []byte) error

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

func Permanent(err error) error { return permanent{err: err} }

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	q    string
	log  *zap.Logger
}

func NewConsumer(url, exchange, queue, key string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	qd, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(qd.Name, key, exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, q: qd.Name, log: logpkg.L()}, nil
}

func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Consume runs workers until ctx is cancelled or the channel closes.
func (c *Consumer) Consume(ctx context.Context, workers int, handle Handler) error {
	if c == nil || c.ch == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if workers <= 0 {
		workers = 1
	}

	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := c.ch.Consume(c.q, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-msgs:
					if !ok {
						return
					}
					settle(ctx, c.log, d, handle(ctx, d.Body))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func settle(ctx context.Context, base *zap.Logger, d amqp.Delivery, err error) {
	l := logpkg.WithDD(ctx, base).With(zap.String("message_id", d.MessageId))
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			l.Warn("ack failed", zap.Error(ackErr))
		}
	case IsPermanent(err) || d.Redelivered:
		l.Error("dropping message", zap.Error(err), zap.Bool("redelivered", d.Redelivered))
		_ = d.Nack(false, false)
	default:
		l.Warn("requeue message", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

type emailSender interface {
	Send(ctx context.Context, msg domain.Email) error
}

// EmailHandler decodes EmailRequested events and delivers them through s.
func EmailHandler(s emailSender) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev EmailRequested
		if err := json.Unmarshal(body, &ev); err != nil {
			return Permanent(fmt.Errorf("decode %s: %w", KeyEmailRequest, err))
		}
		if ev.Email.To == "" {
			return Permanent(errors.New("email event without recipient"))
		}
		return s.Send(ctx, ev.Email)
	}
}
