package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-1"
)

func TestState(t *testing.T) {
	g := New(&oauth2.Config{}, nil, "state-secret")

	s := g.NewState()
	assert.True(t, g.VerifyState(s))
	assert.True(t, g.VerifyState(g.MakeState("a.b.c")))

	assert.False(t, g.VerifyState(""))
	assert.False(t, g.VerifyState("no-signature"))
	assert.False(t, g.VerifyState(s+"x"))
	assert.False(t, New(&oauth2.Config{}, nil, "other").VerifyState(s))
}

func TestAuthURL(t *testing.T) {
	g := New(&oauth2.Config{
		ClientID:    testClientID,
		RedirectURL: "http://localhost/cb",
		Scopes:      []string{"openid", "email"},
		Endpoint:    oauth2.Endpoint{AuthURL: "https://auth.test/authorize"},
	}, nil, "k")

	u, err := url.Parse(g.AuthURL("st"))
	require.NoError(t, err)
	assert.Equal(t, "auth.test", u.Host)
	assert.Equal(t, "st", u.Query().Get("state"))
	assert.Equal(t, testClientID, u.Query().Get("client_id"))
	assert.Equal(t, "openid email", u.Query().Get("scope"))
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, c idTokenClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(key)
	require.NoError(t, err)
	return s
}

func newBridgeWithKey(t *testing.T, key *rsa.PrivateKey, idToken string) *GoogleOAuth {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(srv.Close)

	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := oidc.NewVerifier(testIssuer, keys, &oidc.Config{ClientID: testClientID})
	cfg := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	return New(cfg, verifier, "state")
}

func validClaims() idTokenClaims {
	now := time.Now()
	return idTokenClaims{
		Email:         "jane@gmail.com",
		EmailVerified: true,
		GivenName:     "Jane",
		FamilyName:    "Doe",
		Picture:       "https://pics.test/jane.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "g-123",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestExchange(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	g := newBridgeWithKey(t, key, signIDToken(t, key, validClaims()))

	id, err := g.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "g-123", id.Subject)
	assert.Equal(t, "jane@gmail.com", id.Email)
	assert.True(t, id.EmailVerified)
	assert.Equal(t, "Jane", id.GivenName)
	assert.Equal(t, "Doe", id.FamilyName)
	assert.Equal(t, "https://pics.test/jane.png", id.PictureURL)

	_, err = g.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestExchange_RejectsUntrustedTokens(t *testing.T) {
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noEmail := validClaims()
	noEmail.Email = ""

	for name, build := range map[string]func(key *rsa.PrivateKey) string{
		"foreign key": func(*rsa.PrivateKey) string { return signIDToken(t, other, validClaims()) },
		"audience":    func(k *rsa.PrivateKey) string { return signIDToken(t, k, wrongAud) },
		"expired":     func(k *rsa.PrivateKey) string { return signIDToken(t, k, expired) },
		"no email":    func(k *rsa.PrivateKey) string { return signIDToken(t, k, noEmail) },
		"missing":     func(*rsa.PrivateKey) string { return "" },
	} {
		t.Run(name, func(t *testing.T) {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			require.NoError(t, err)
			g := newBridgeWithKey(t, key, build(key))
			_, err = g.Exchange(context.Background(), "good-code")
			assert.Error(t, err)
		})
	}
}
