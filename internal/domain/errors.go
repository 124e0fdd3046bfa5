package domain

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidEmail
	KindEmailTaken
	KindNotFound
	KindNotVerified
	KindBadCredentials
	KindInvalidToken
	KindAlreadyVerified
	KindExternalIdentity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidEmail:
		return "invalid_email"
	case KindEmailTaken:
		return "email_taken"
	case KindNotFound:
		return "not_found"
	case KindNotVerified:
		return "not_verified"
	case KindBadCredentials:
		return "bad_credentials"
	case KindInvalidToken:
		return "invalid_token"
	case KindAlreadyVerified:
		return "already_verified"
	case KindExternalIdentity:
		return "external_identity"
	default:
		return "internal"
	}
}

// Error is a classified failure. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithMessage returns a copy with a different user-facing message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Wrap returns a copy that carries cause for logging.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "all required fields must be provided"}
	ErrInvalidEmail    = &Error{Kind: KindInvalidEmail, Message: "email address is not accepted", Code: "INVALID_EMAIL"}
	ErrEmailTaken      = &Error{Kind: KindEmailTaken, Message: "email already in use"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrNotVerified     = &Error{Kind: KindNotVerified, Message: "please verify your email"}
	ErrBadCredentials  = &Error{Kind: KindBadCredentials, Message: "incorrect password"}
	ErrInvalidToken    = &Error{Kind: KindInvalidToken, Message: "invalid or expired token"}
	ErrAlreadyVerified = &Error{Kind: KindAlreadyVerified, Message: "account already verified"}
	ErrExternalAuth    = &Error{Kind: KindExternalIdentity, Message: "external sign-in failed"}
	ErrInternal        = &Error{Kind: KindInternal, Message: "internal server error"}
)

// KindOf classifies err; anything unclassified is internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PublicError returns the classified error or ErrInternal for anything else.
func PublicError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal
}
