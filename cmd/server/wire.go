package main

import (
	"context"
	"fmt"

	"github.com/tazhibayda/auth-api/internal/auth"
	"github.com/tazhibayda/auth-api/internal/config"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/emailcheck"
	api "github.com/tazhibayda/auth-api/internal/http"
	"github.com/tazhibayda/auth-api/internal/imagestore"
	"github.com/tazhibayda/auth-api/internal/mail"
	"github.com/tazhibayda/auth-api/internal/oauth"
	"github.com/tazhibayda/auth-api/internal/queue"
	"github.com/tazhibayda/auth-api/internal/repo"
	"github.com/tazhibayda/auth-api/internal/security"
	"go.uber.org/zap"
)

type deps struct {
	service *auth.Service
	keys    *security.KeyManager
	google  *oauth.GoogleOAuth
	limiter api.Counter
	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, store domain.AccountRepository, logger *zap.Logger) (*deps, error) {
	d := &deps{}

	issuerOpts := []security.IssuerOption{security.WithIssuerName(cfg.JWTIssuer)}
	if cfg.JWTPrivateKeyPath != "" {
		km, err := security.NewKeyManager(cfg.JWTKeyID, cfg.JWTPrivateKeyPath, cfg.JWTNextKeyID, cfg.JWTNextKeyPath)
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		d.keys = km
		issuerOpts = append(issuerOpts, security.WithKeyManager(km))
	}
	issuer := security.NewIssuer(cfg.JWTSecret, issuerOpts...)

	sender, err := newSender(cfg, logger, d)
	if err != nil {
		d.close()
		return nil, err
	}

	checker, err := emailcheck.New(
		emailcheck.WithKickbox(cfg.KickboxAPIKey, cfg.KickboxURL),
		emailcheck.WithLogger(logger),
	)
	if err != nil {
		d.close()
		return nil, err
	}

	opts := []auth.Option{
		auth.WithMailer(sender),
		auth.WithQualityChecker(checker),
		auth.WithClientURL(cfg.ClientURL),
		auth.WithRequireAvatar(cfg.RequireAvatar),
		auth.WithResetPepper([]byte(cfg.ResetTokenPepper)),
		auth.WithLogger(logger),
	}

	if cfg.S3Bucket != "" {
		st, err := imagestore.NewS3(ctx, imagestore.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		opts = append(opts, auth.WithImageStore(st))
	}

	if cfg.GoogleEnabled() {
		g, err := oauth.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.StateSecret())
		if err != nil {
			d.close()
			return nil, fmt.Errorf("google: %w", err)
		}
		d.google = g
		opts = append(opts, auth.WithIdentityBridge(g))
	}

	if cfg.RedisAddr != "" {
		rds := repo.NewRedis(cfg.RedisAddr)
		if err := rds.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, rate limiting fails open", zap.Error(err))
		}
		d.limiter = rds
		d.closers = append(d.closers, func() { _ = rds.Close() })
	}

	d.service = auth.NewService(store, security.NewHasher(cfg.BcryptCost), issuer, opts...)
	return d, nil
}

func newSender(cfg config.Config, logger *zap.Logger, d *deps) (mail.Sender, error) {
	switch cfg.MailTransport {
	case config.MailSMTP:
		return mail.Observed(config.MailSMTP, mail.NewSMTPSender(smtpConfig(cfg))), nil
	case config.MailRabbit:
		pub, err := queue.NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, fmt.Errorf("rabbit publisher: %w", err)
		}
		d.closers = append(d.closers, func() { _ = pub.Close() })
		return mail.Observed(config.MailRabbit, queue.NewMailPublisher(pub, cfg.RabbitExchange)), nil
	default:
		return mail.Observed(config.MailLog, &mail.LogSender{Log: logger}), nil
	}
}

func smtpConfig(cfg config.Config) mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}
}
