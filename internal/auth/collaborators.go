package auth

import (
	"context"
	"io"

	"github.com/tazhibayda/auth-api/internal/domain"
)

// EmailSender delivers one message or reports why it could not.
type EmailSender interface {
	Send(ctx context.Context, msg domain.Email) error
}

// QualityChecker decides whether an address may register. Implementations
// degrade to a permissive verdict when their upstream is unavailable.
type QualityChecker interface {
	Check(ctx context.Context, email string) domain.EmailVerdict
}

// IdentityBridge turns a provider authorization code into a vouched identity.
type IdentityBridge interface {
	Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error)
}

// ImageStore keeps uploaded avatars and returns a public reference.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
}

// Upload is an avatar attached to a registration.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
