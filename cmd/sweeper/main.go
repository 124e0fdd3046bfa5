// Command sweeper runs one retention pass: it deletes accounts that never
// verified their email and closes expired reset windows.
package main

import (
	"context"
	stdlog "log"
	"time"

	"github.com/tazhibayda/auth-api/internal/auth"
	"github.com/tazhibayda/auth-api/internal/config"
	"github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/repo"
	"go.uber.org/zap"
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, closeStore, err := repo.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := auth.NewService(store, nil, nil, auth.WithLogger(logger))
	res, err := svc.Sweep(ctx, cfg.UnverifiedRetention)
	if err != nil {
		return err
	}
	logger.Info("sweep done",
		zap.Int64("deleted_unverified", res.DeletedUnverified),
		zap.Int64("cleared_resets", res.ClearedResets),
		zap.Duration("retention", cfg.UnverifiedRetention),
	)
	return nil
}
