package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account is the identity record. PasswordDigest is empty only for
// external-identity accounts; the reset pair is either fully set or empty.
type Account struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	PasswordDigest     string     `json:"-"`
	DisplayName        string     `json:"name"`
	FamilyName         string     `json:"lastname,omitempty"`
	Role               Role       `json:"role"`
	IsVerified         bool       `json:"is_verified"`
	IsExternalIdentity bool       `json:"is_external_identity"`
	AvatarRef          string     `json:"avatar,omitempty"`
	ResetTokenDigest   string     `json:"-"`
	ResetTokenExpiry   *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (a *Account) HasPassword() bool { return a.PasswordDigest != "" }

func (a *Account) ResetOpen(now time.Time) bool {
	return a.ResetTokenDigest != "" && a.ResetTokenExpiry != nil && now.Before(*a.ResetTokenExpiry)
}

// Summary is the public view returned on login.
type Summary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar"`
}

func (a *Account) Summary() Summary {
	return Summary{
		ID:     a.ID,
		Name:   a.DisplayName,
		Email:  a.Email,
		Role:   a.Role,
		Avatar: a.AvatarRef,
	}
}

// CanonicalEmail lower-cases and trims an address for storage and lookup.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountPatch lists optional fields for Update; nil means unchanged.
type AccountPatch struct {
	DisplayName *string
	FamilyName  *string
	AvatarRef   *string
	Role        *Role
}

// Check rejects a patch that would store an unknown role.
func (p AccountPatch) Check() error {
	if p.Role != nil && !p.Role.Valid() {
		return ErrValidation.WithMessage("unknown role " + string(*p.Role))
	}
	return nil
}

// ExternalIdentity is what an identity provider vouches for.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	PictureURL    string
}

// EmailVerdict is the outcome of an email-quality check.
type EmailVerdict struct {
	Valid  bool
	Reason string
}
