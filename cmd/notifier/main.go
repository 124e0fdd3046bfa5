package main

import (
	"context"
	"errors"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tazhibayda/auth-api/internal/config"
	"github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/mail"
	"github.com/tazhibayda/auth-api/internal/queue"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}
	logger, err := log.Init(cfg.Production())
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DDEnabled {
		tracer.Start(tracer.WithService(cfg.DDService+"-notifier"), tracer.WithEnv(cfg.Env))
		defer tracer.Stop()
	}

	cons, err := queue.NewConsumer(cfg.RabbitURL, cfg.RabbitExchange, cfg.RabbitQueue, queue.KeyEmailRequest)
	if err != nil {
		logger.Fatal("rabbit consumer init failed", zap.Error(err))
	}
	defer cons.Close()

	sender := mail.Observed(config.MailSMTP, mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notifier up",
		zap.String("exchange", cfg.RabbitExchange),
		zap.String("queue", cfg.RabbitQueue),
		zap.String("key", queue.KeyEmailRequest),
		zap.Int("workers", cfg.NotifyConcurrency),
	)

	err = cons.Consume(ctx, cfg.NotifyConcurrency, queue.EmailHandler(sender))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
}
