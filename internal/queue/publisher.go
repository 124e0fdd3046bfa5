package queue

import (
	"context"
	"time"

	"github.com/tazhibayda/auth-api/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, key string, event any, reqID string) error
	Close() error
}

type NoopPub struct{}

func NewNoop() Publisher { return NoopPub{} }

func (NoopPub) Publish(ctx context.Context, exchange, key string, event any, reqID string) error {
	return nil
}
func (NoopPub) Close() error { return nil }

type ctxKey struct{}

// WithRequestID attaches the id that Publish copies into the X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// MailPublisher hands messages to the notifier over the broker instead of
// talking to SMTP inline.
type MailPublisher struct {
	pub      Publisher
	exchange string
	now      func() time.Time
}

func NewMailPublisher(pub Publisher, exchange string) *MailPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &MailPublisher{pub: pub, exchange: exchange, now: time.Now}
}

func (m *MailPublisher) Send(ctx context.Context, msg domain.Email) error {
	ev := EmailRequested{Email: msg, RequestedAt: m.now().UTC()}
	return m.pub.Publish(ctx, m.exchange, KeyEmailRequest, ev, RequestID(ctx))
}
