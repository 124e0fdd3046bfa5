package queue

import (
	"time"

	"github.com/tazhibayda/auth-api/internal/domain"
)

const (
	DefaultExchange = "auth.events"
	KeyEmailRequest = "email.requested"
)

// EmailRequested asks the notifier to deliver one rendered message.
type EmailRequested struct {
	Email       domain.Email `json:"email"`
	RequestedAt time.Time    `json:"requested_at"`
}
