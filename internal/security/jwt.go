package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose separates verification links from session credentials.
type Purpose string

const (
	PurposeVerify  Purpose = "verify"
	PurposeSession Purpose = "session"
)

const (
	VerifyTTL  = 24 * time.Hour
	SessionTTL = 7 * 24 * time.Hour
)

// ErrInvalidToken covers malformed, forged, expired and wrong-purpose tokens.
var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Purpose Purpose `json:"typ"`
	Role    string  `json:"role,omitempty"`
	Name    string  `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs with HS256 and a shared secret, or with RS256 when a key
// manager is configured.
type Issuer struct {
	secret []byte
	keys   *KeyManager
	name   string
	now    func() time.Time
}

type IssuerOption func(*Issuer)

func WithKeyManager(km *KeyManager) IssuerOption {
	return func(i *Issuer) { i.keys = km }
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) { i.name = name }
}

func NewIssuer(secret string, opts ...IssuerOption) *Issuer {
	i := &Issuer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Issue(c Claims, ttl time.Duration) (string, error) {
	if c.Subject == "" {
		return "", errors.New("token subject is empty")
	}
	now := i.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if i.name != "" {
		c.Issuer = i.name
	}

	if i.keys != nil {
		t := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
		t.Header["kid"] = i.keys.Active.Kid
		return t.SignedString(i.keys.Active.Private)
	}
	if len(i.secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

func (i *Issuer) Verify(token string, want Purpose) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.keys != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if i.name != "" {
		opts = append(opts, jwt.WithIssuer(i.name))
	}

	claims := &Claims{}
	t, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, i.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid || claims.Purpose != want || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) keyFunc(t *jwt.Token) (interface{}, error) {
	if i.keys == nil {
		return i.secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	if pk, ok := i.keys.PublicByKid(kid); ok {
		return pk, nil
	}
	return nil, errors.New("no key by kid")
}
