package mail

import (
	"context"
	"fmt"

	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/helper"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/metrics"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, msg domain.Email) error
}

// LogSender prints messages instead of delivering them. Development only.
type LogSender struct {
	Log *zap.Logger
}

func (s *LogSender) Send(ctx context.Context, msg domain.Email) error {
	logpkg.WithDD(ctx, s.Log).Info("[MAIL]",
		zap.String("to", helper.EmailRef(msg.To)),
		zap.String("subject", msg.Subject),
		zap.Int("bytes", len(msg.HTML)),
	)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers directly to a relay, one connection per message.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg domain.Email) error {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	c, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Observed counts every send attempt of next under transport.
func Observed(transport string, next Sender) Sender {
	return observed{transport: transport, next: next}
}

type observed struct {
	transport string
	next      Sender
}

func (o observed) Send(ctx context.Context, msg domain.Email) error {
	err := o.next.Send(ctx, msg)
	metrics.ObserveMail(o.transport, err)
	return err
}
