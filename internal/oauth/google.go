package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/tazhibayda/auth-api/internal/domain"
	"golang.org/x/oauth2"
	ggoogle "golang.org/x/oauth2/google"
)

const GoogleIssuer = "https://accounts.google.com"

type GoogleOAuth struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
	stateKey []byte
}

// NewGoogle discovers Google's signing keys and returns a bridge that
// verifies every id_token it receives.
func NewGoogle(ctx context.Context, clientID, clientSecret, redirectURI, stateSecret string) (*GoogleOAuth, error) {
	provider, err := oidc.NewProvider(ctx, GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		Endpoint:     ggoogle.Endpoint,
	}
	return New(cfg, provider.Verifier(&oidc.Config{ClientID: clientID}), stateSecret), nil
}

// New wires an arbitrary OIDC provider; tests use it with a static key set.
func New(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, stateSecret string) *GoogleOAuth {
	return &GoogleOAuth{cfg: cfg, verifier: verifier, stateKey: []byte(stateSecret)}
}

// NewState returns a fresh signed state value.
func (g *GoogleOAuth) NewState() string {
	return g.MakeState(uuid.NewString())
}

// MakeState signs raw with HMAC so the callback can tell it was minted here.
func (g *GoogleOAuth) MakeState(raw string) string {
	return raw + "." + base64.RawURLEncoding.EncodeToString(g.sign(raw))
}

func (g *GoogleOAuth) VerifyState(got string) bool {
	i := strings.LastIndexByte(got, '.')
	if i <= 0 {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(got[i+1:])
	if err != nil {
		return false
	}
	return hmac.Equal(g.sign(got[:i]), sig)
}

func (g *GoogleOAuth) sign(raw string) []byte {
	mac := hmac.New(sha256.New, g.stateKey)
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}

func (g *GoogleOAuth) AuthURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the authorization code for tokens and returns the identity
// from the verified id_token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token")
	}
	idt, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var c googleClaims
	if err := idt.Claims(&c); err != nil {
		return nil, fmt.Errorf("id_token claims: %w", err)
	}
	if c.Email == "" || idt.Subject == "" {
		return nil, errors.New("missing email/sub")
	}
	given := c.GivenName
	if given == "" {
		given = c.Name
	}
	return &domain.ExternalIdentity{
		Subject:       idt.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		GivenName:     given,
		FamilyName:    c.FamilyName,
		PictureURL:    c.Picture,
	}, nil
}
