package emailcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T, opts ...Option) *Checker {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func TestCheck_Local(t *testing.T) {
	c := newChecker(t, WithBlockedDomains("Example-Spam.test"))
	ctx := context.Background()

	for email, reason := range map[string]string{
		"no-at-sign":             ReasonFormat,
		"@example.com":           ReasonFormat,
		"jane@":                  ReasonFormat,
		"jane@mailinator.com":    ReasonDisposable,
		"jane@MAILINATOR.com":    ReasonDisposable,
		"jane@eu.mailinator.com": ReasonDisposable,
		"jane@example-spam.test": ReasonDisposable,
	} {
		v := c.Check(ctx, email)
		assert.False(t, v.Valid, email)
		assert.Equal(t, reason, v.Reason, email)
	}

	assert.True(t, c.Check(ctx, "jane@notmailinator.com").Valid)
	assert.True(t, c.Check(ctx, "jane@example.com").Valid)
}

func kickboxServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		assert.NotEmpty(t, r.URL.Query().Get("email"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck_Kickbox(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		valid  bool
		reason string
	}{
		{"deliverable", 200, `{"result":"deliverable","disposable":false,"role":false}`, true, ""},
		{"undeliverable", 200, `{"result":"undeliverable"}`, false, ReasonDisposable},
		{"disposable", 200, `{"result":"deliverable","disposable":true}`, false, ReasonDisposable},
		{"role", 200, `{"result":"deliverable","role":true}`, false, ReasonRole},
		{"server error degrades", 500, `oops`, true, ""},
		{"bad json degrades", 200, `{`, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := kickboxServer(t, tc.status, tc.body)
			c := newChecker(t, WithKickbox("key", srv.URL))
			v := c.Check(context.Background(), "jane@example.com")
			assert.Equal(t, tc.valid, v.Valid)
			assert.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestCheck_KickboxTimeoutDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newChecker(t, WithKickbox("key", srv.URL), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	assert.True(t, c.Check(context.Background(), "jane@example.com").Valid)
}

func TestCheck_LocalListWinsOverKickbox(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	c := newChecker(t, WithKickbox("key", srv.URL))
	assert.False(t, c.Check(context.Background(), "jane@yopmail.com").Valid)
	assert.False(t, called)
}
