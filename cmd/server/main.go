package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tazhibayda/auth-api/internal/config"
	api "github.com/tazhibayda/auth-api/internal/http"
	"github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/metrics"
	"github.com/tazhibayda/auth-api/internal/repo"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const shutdownTimeout = 15 * time.Second

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
		logger.Fatal("auth-api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.DDEnabled {
		tracer.Start(tracer.WithService(cfg.DDService), tracer.WithEnv(cfg.Env))
		defer tracer.Stop()
	}
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, closeStore, err := repo.Open(initCtx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	deps, err := build(initCtx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	h := api.NewHandler(deps.service, store, cfg.ClientURL, cfg.Production())
	h.Keys = deps.keys
	h.TokenInRedirect = cfg.OAuthTokenInRedirect
	if deps.google != nil {
		h.Google = deps.google
	}

	router := api.NewRouter(h, api.RouterOptions{
		Logger:          logger,
		CORSOrigins:     cfg.CORSOrigins,
		Limiter:         deps.limiter,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		TraceEnabled:    cfg.DDEnabled,
		TraceService:    cfg.DDService,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	logger.Info("auth-api listening",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.String("mail", cfg.MailTransport),
		zap.Bool("google", deps.google != nil),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShut()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// let detached email dispatches finish before the mailer closes
	deps.service.Wait()
	return nil
}
