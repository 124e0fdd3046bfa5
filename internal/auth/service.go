// Package auth is the account lifecycle: registration, email verification,
// credential login, password reset and external sign-in.
package auth

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/helper"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/mail"
	"github.com/tazhibayda/auth-api/internal/metrics"
	"github.com/tazhibayda/auth-api/internal/security"
	"go.uber.org/zap"
)

const (
	dispatchTimeout = 10 * time.Second
	exchangeTimeout = 10 * time.Second
	qualityTimeout  = 3 * time.Second
)

// Session is a signed-in account and its bearer token.
type Session struct {
	Token   string
	Account *domain.Account
}

type Service struct {
	repo   domain.AccountRepository
	hasher *security.Hasher
	tokens *security.Issuer
	resets *ResetStore

	mailer  EmailSender
	checker QualityChecker
	bridge  IdentityBridge
	images  ImageStore

	clientURL     string
	requireAvatar bool
	pepper        []byte
	now           func() time.Time
	log           *zap.Logger

	wg sync.WaitGroup
}

type Option func(*Service)

func WithMailer(m EmailSender) Option            { return func(s *Service) { s.mailer = m } }
func WithQualityChecker(c QualityChecker) Option { return func(s *Service) { s.checker = c } }
func WithIdentityBridge(b IdentityBridge) Option { return func(s *Service) { s.bridge = b } }
func WithImageStore(st ImageStore) Option        { return func(s *Service) { s.images = st } }
func WithRequireAvatar(v bool) Option            { return func(s *Service) { s.requireAvatar = v } }
func WithResetPepper(pepper []byte) Option       { return func(s *Service) { s.pepper = pepper } }
func WithLogger(l *zap.Logger) Option            { return func(s *Service) { s.log = l } }
func WithClientURL(u string) Option {
	return func(s *Service) { s.clientURL = strings.TrimRight(u, "/") }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo domain.AccountRepository, hasher *security.Hasher, tokens *security.Issuer, opts ...Option) *Service {
	s := &Service{repo: repo, hasher: hasher, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.resets = NewResetStore(repo, s.pepper, s.now)
	return s
}

// Wait blocks until every detached email dispatch has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) logger(ctx context.Context, fields ...zap.Field) *zap.Logger {
	return logpkg.WithDD(ctx, s.log, fields...)
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (acc *domain.Account, err error) {
	defer func() { metrics.ObserveAuth("register", err) }()

	if err := in.validate(s.requireAvatar); err != nil {
		return nil, err
	}
	email := domain.CanonicalEmail(in.Email)

	// quality runs before the uniqueness check so a rejected domain says
	// nothing about existing accounts
	if s.checker != nil {
		cctx, cancel := context.WithTimeout(ctx, qualityTimeout)
		verdict := s.checker.Check(cctx, email)
		cancel()
		if !verdict.Valid {
			return nil, domain.ErrInvalidEmail.WithMessage(verdict.Reason)
		}
	}

	switch _, err := s.repo.FindByEmail(ctx, email); {
	case err == nil:
		return nil, domain.ErrEmailTaken
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	avatarKey, avatar, err := s.storeAvatar(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	acc = &domain.Account{
		Email:          email,
		PasswordDigest: digest,
		DisplayName:    strings.TrimSpace(in.Name),
		FamilyName:     strings.TrimSpace(in.Lastname),
		Role:           domain.RoleUser,
		AvatarRef:      avatar,
	}
	if _, err := s.repo.Create(ctx, acc); err != nil {
		s.dropAvatar(ctx, avatarKey)
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger(ctx, zap.String("account_id", acc.ID), zap.String("email", helper.EmailRef(email))).
		Info("account registered")
	s.sendVerification(ctx, acc)
	return acc, nil
}

// storeAvatar uploads u and returns its object key and public reference.
func (s *Service) storeAvatar(ctx context.Context, u *Upload) (key, ref string, err error) {
	if u == nil {
		return "", "", nil
	}
	if s.images == nil {
		s.logger(ctx).Warn("avatar upload ignored, no image store configured")
		return "", "", nil
	}
	key = path.Join("avatars", uuid.NewString()+allowedImageTypes[u.ContentType])
	ref, err = s.images.Put(ctx, key, u.ContentType, u.Body, u.Size)
	if err != nil {
		return "", "", fmt.Errorf("store avatar: %w", err)
	}
	return key, ref, nil
}

// dropAvatar removes an upload whose account was never created.
func (s *Service) dropAvatar(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger(ctx, zap.String("key", key)).Warn("orphaned avatar not removed", zap.Error(err))
	}
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (err error) {
	defer func() { metrics.ObserveAuth("verify_email", err) }()

	claims, err := s.tokens.Verify(token, security.PurposeVerify)
	if err != nil {
		return domain.ErrInvalidToken
	}
	acc, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return fmt.Errorf("load account: %w", err)
	}
	if acc.IsVerified {
		return domain.ErrAlreadyVerified
	}
	switch err := s.repo.SetVerified(ctx, acc.ID); {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyVerified):
		return err
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrInvalidToken
	default:
		return fmt.Errorf("set verified: %w", err)
	}
	s.logger(ctx, zap.String("account_id", acc.ID)).Info("email verified")
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { metrics.ObserveAuth("login", err) }()

	if blank(email, password) {
		return nil, domain.ErrValidation.WithMessage("email and password are required")
	}
	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if !acc.IsVerified {
		return nil, domain.ErrNotVerified
	}
	if !acc.HasPassword() || !s.hasher.Verify(password, acc.PasswordDigest) {
		return nil, domain.ErrBadCredentials
	}
	return s.session(acc)
}

func (s *Service) session(acc *domain.Account) (*Session, error) {
	tok, err := s.tokens.Issue(security.Claims{
		Purpose:          security.PurposeSession,
		Role:             string(acc.Role),
		Name:             acc.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{Subject: acc.ID},
	}, security.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Session{Token: tok, Account: acc}, nil
}

// Authenticate resolves a session token to its current account.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Account, *security.Claims, error) {
	claims, err := s.tokens.Verify(token, security.PurposeSession)
	if err != nil {
		return nil, nil, domain.ErrInvalidToken
	}
	acc, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("load account: %w", err)
	}
	return acc, claims, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { metrics.ObserveAuth("reset_request", err) }()

	if blank(email) {
		return domain.ErrValidation.WithMessage("email is required")
	}
	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("lookup email: %w", err)
	}
	plain, err := s.resets.Issue(ctx, acc)
	if err != nil {
		return fmt.Errorf("open reset window: %w", err)
	}
	msg, err := mail.ResetEmail(acc.Email, s.clientURL+"/reset-password/"+plain)
	if err != nil {
		return fmt.Errorf("render reset email: %w", err)
	}
	s.dispatch(ctx, "reset", msg)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) (err error) {
	defer func() { metrics.ObserveAuth("reset_password", err) }()

	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	if _, err := s.resets.Lookup(ctx, token); err != nil {
		return err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acc, err := s.resets.Redeem(ctx, token, digest)
	if err != nil {
		return err
	}
	s.logger(ctx, zap.String("account_id", acc.ID)).Info("password reset")
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { metrics.ObserveAuth("resend_verification", err) }()

	if blank(email) {
		return domain.ErrValidation.WithMessage("email is required")
	}
	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("lookup email: %w", err)
	}
	if acc.IsVerified {
		return domain.ErrAlreadyVerified
	}
	s.sendVerification(ctx, acc)
	return nil
}

// ExternalSignIn provisions or resumes the account for a provider identity.
// An unverified local account with the same email is taken over as an
// external identity and its password is dropped.
func (s *Service) ExternalSignIn(ctx context.Context, code string) (sess *Session, err error) {
	defer func() { metrics.ObserveAuth("external_sign_in", err) }()

	if s.bridge == nil {
		return nil, domain.ErrExternalAuth.WithMessage("external sign-in is not configured")
	}
	if blank(code) {
		return nil, domain.ErrValidation.WithMessage("authorization code is required")
	}

	xctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	id, err := s.bridge.Exchange(xctx, code)
	cancel()
	if err != nil {
		return nil, domain.ErrExternalAuth.Wrap(err)
	}
	if id.Email == "" || !id.EmailVerified {
		return nil, domain.ErrExternalAuth.WithMessage("provider did not confirm the email address")
	}

	acc, err := s.resolveExternal(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.session(acc)
}

func (s *Service) resolveExternal(ctx context.Context, id *domain.ExternalIdentity) (*domain.Account, error) {
	email := domain.CanonicalEmail(id.Email)
	log := s.logger(ctx, zap.String("email", helper.EmailRef(email)))

	acc, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		acc = &domain.Account{
			Email:              email,
			DisplayName:        displayName(id),
			FamilyName:         id.FamilyName,
			Role:               domain.RoleUser,
			IsVerified:         true,
			IsExternalIdentity: true,
			AvatarRef:          id.PictureURL,
		}
		_, err = s.repo.Create(ctx, acc)
		if err == nil {
			log.Info("external account created", zap.String("account_id", acc.ID))
			return acc, nil
		}
		if !errors.Is(err, domain.ErrEmailTaken) {
			return nil, fmt.Errorf("create account: %w", err)
		}
		// lost a race with another sign-up for the same email
		acc, err = s.repo.FindByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	if !acc.IsVerified {
		adopted, err := s.repo.AdoptExternalIdentity(ctx, acc.ID)
		switch {
		case err == nil:
			log.Info("unverified account adopted by external identity", zap.String("account_id", acc.ID))
			acc = adopted
		case errors.Is(err, domain.ErrAlreadyVerified):
			if acc, err = s.repo.FindByID(ctx, acc.ID); err != nil {
				return nil, fmt.Errorf("reload account: %w", err)
			}
		default:
			return nil, fmt.Errorf("adopt account: %w", err)
		}
	}

	if acc.AvatarRef == "" && id.PictureURL != "" {
		pic := id.PictureURL
		if err := s.repo.Update(ctx, acc.ID, domain.AccountPatch{AvatarRef: &pic}); err != nil {
			log.Warn("avatar backfill failed", zap.Error(err))
		} else {
			acc.AvatarRef = pic
		}
	}
	return acc, nil
}

func displayName(id *domain.ExternalIdentity) string {
	if n := strings.TrimSpace(id.GivenName); n != "" {
		return n
	}
	local, _, _ := strings.Cut(id.Email, "@")
	return local
}

func (s *Service) sendVerification(ctx context.Context, acc *domain.Account) {
	log := s.logger(ctx, zap.String("account_id", acc.ID))
	tok, err := s.tokens.Issue(security.Claims{
		Purpose:          security.PurposeVerify,
		RegisteredClaims: jwt.RegisteredClaims{Subject: acc.ID},
	}, security.VerifyTTL)
	if err != nil {
		log.Error("issue verification token", zap.Error(err))
		return
	}
	msg, err := mail.VerificationEmail(acc.Email, acc.DisplayName, s.clientURL+"/verify/"+tok)
	if err != nil {
		log.Error("render verification email", zap.Error(err))
		return
	}
	s.dispatch(ctx, "verify", msg)
}

// dispatch sends msg after the request has committed; failures are logged
// only, the account stays resendable.
func (s *Service) dispatch(ctx context.Context, kind string, msg domain.Email) {
	if s.mailer == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger(ctx, zap.String("kind", kind), zap.String("to", helper.EmailRef(msg.To))).
				Error("email dispatch failed", zap.Error(err))
		}
	}()
}

// SweepResult reports one retention pass.
type SweepResult struct {
	DeletedUnverified int64
	ClearedResets     int64
}

// Sweep deletes accounts left unverified longer than retention and closes
// expired reset windows.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (SweepResult, error) {
	now := s.now()
	var res SweepResult
	n, err := s.repo.ClearExpiredResets(ctx, now)
	if err != nil {
		return res, fmt.Errorf("clear expired resets: %w", err)
	}
	res.ClearedResets = n
	if n, err = s.repo.DeleteUnverifiedBefore(ctx, now.Add(-retention)); err != nil {
		return res, fmt.Errorf("delete unverified: %w", err)
	}
	res.DeletedUnverified = n
	return res, nil
}
