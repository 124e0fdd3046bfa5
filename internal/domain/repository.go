package domain

import (
	"context"
	"time"
)

// AccountRepository owns account records. Implementations must make each
// method atomic against concurrent writers of the same account and enforce
// canonical-email uniqueness themselves (ErrEmailTaken).
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// FindByResetDigest matches only while the reset window is open at now.
	FindByResetDigest(ctx context.Context, digest string, now time.Time) (*Account, error)

	Create(ctx context.Context, a *Account) (string, error)
	Update(ctx context.Context, id string, patch AccountPatch) error
	// SetVerified flips isVerified only if it is still false; otherwise
	// ErrAlreadyVerified.
	SetVerified(ctx context.Context, id string) error
	// SetPassword replaces the digest and clears any open reset window.
	SetPassword(ctx context.Context, id, passwordDigest string) error

	SetResetDigest(ctx context.Context, id, digest string, expiry time.Time) error
	// RedeemResetDigest replaces the password and clears the reset pair in
	// one write, conditional on the digest still being live at now.
	RedeemResetDigest(ctx context.Context, digest string, now time.Time, passwordDigest string) (*Account, error)
	// AdoptExternalIdentity turns a still-unverified account into a verified
	// external-identity account and drops its local password.
	AdoptExternalIdentity(ctx context.Context, id string) (*Account, error)

	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ClearExpiredResets(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
}
