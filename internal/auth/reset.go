package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/security"
)

const ResetWindow = time.Hour

// ResetStore issues one-time reset secrets and keeps only their digests on
// the account.
type ResetStore struct {
	repo   domain.AccountRepository
	pepper []byte
	now    func() time.Time
}

func NewResetStore(repo domain.AccountRepository, pepper []byte, now func() time.Time) *ResetStore {
	if now == nil {
		now = time.Now
	}
	return &ResetStore{repo: repo, pepper: pepper, now: now}
}

// Issue opens a reset window on acc and returns the plaintext secret.
func (r *ResetStore) Issue(ctx context.Context, acc *domain.Account) (string, error) {
	plain, err := security.NewResetToken()
	if err != nil {
		return "", fmt.Errorf("reset token: %w", err)
	}
	expiry := r.now().Add(ResetWindow)
	if err := r.repo.SetResetDigest(ctx, acc.ID, security.DigestResetToken(r.pepper, plain), expiry); err != nil {
		return "", err
	}
	return plain, nil
}

// Lookup finds the account whose window for plain is still open.
func (r *ResetStore) Lookup(ctx context.Context, plain string) (*domain.Account, error) {
	if plain == "" {
		return nil, domain.ErrInvalidToken
	}
	acc, err := r.repo.FindByResetDigest(ctx, security.DigestResetToken(r.pepper, plain), r.now())
	return acc, asInvalidToken(err)
}

// Redeem replaces the password and closes the window in one conditional
// write. A second redeem of the same secret fails.
func (r *ResetStore) Redeem(ctx context.Context, plain, passwordDigest string) (*domain.Account, error) {
	if plain == "" {
		return nil, domain.ErrInvalidToken
	}
	acc, err := r.repo.RedeemResetDigest(ctx, security.DigestResetToken(r.pepper, plain), r.now(), passwordDigest)
	return acc, asInvalidToken(err)
}

func asInvalidToken(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrInvalidToken
	}
	return err
}
