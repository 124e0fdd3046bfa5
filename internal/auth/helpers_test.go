package auth_test

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/auth"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/repo"
	"github.com/tazhibayda/auth-api/internal/security"
	"golang.org/x/crypto/bcrypt"
)

const clientURL = "http://client.test"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type outbox struct {
	mu   sync.Mutex
	sent []domain.Email
	fail error
}

func (o *outbox) Send(_ context.Context, msg domain.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, msg)
	return nil
}

// lastTo returns the newest email addressed to to. Dispatch runs in the
// background, so the outbox order across recipients is not fixed.
func (o *outbox) lastTo(t *testing.T, to string) domain.Email {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To == to {
			return o.sent[i]
		}
	}
	require.Failf(t, "no email sent", "recipient %s", to)
	return domain.Email{}
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type checker map[string]string

func (c checker) Check(_ context.Context, email string) domain.EmailVerdict {
	if reason, bad := c[email]; bad {
		return domain.EmailVerdict{Valid: false, Reason: reason}
	}
	return domain.EmailVerdict{Valid: true}
}

type bridge struct {
	id  *domain.ExternalIdentity
	err error
}

func (b bridge) Exchange(context.Context, string) (*domain.ExternalIdentity, error) {
	return b.id, b.err
}

type images struct {
	keys    []string
	deleted []string
}

func (i *images) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	i.keys = append(i.keys, key)
	return "https://cdn.test/" + key, nil
}

func (i *images) Delete(_ context.Context, key string) error {
	i.deleted = append(i.deleted, key)
	return nil
}

type env struct {
	svc    *auth.Service
	repo   *repo.Memory
	mail   *outbox
	clock  *clock
	issuer *security.Issuer
}

func newEnv(t *testing.T, opts ...auth.Option) *env {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := repo.NewMemory(repo.WithMemoryClock(clk.Now))
	box := &outbox{}
	issuer := security.NewIssuer("test-secret", security.WithIssuerClock(clk.Now))

	base := []auth.Option{
		auth.WithMailer(box),
		auth.WithClock(clk.Now),
		auth.WithClientURL(clientURL + "/"),
		auth.WithResetPepper([]byte("pepper")),
	}
	svc := auth.NewService(mem, security.NewHasher(bcrypt.MinCost), issuer, append(base, opts...)...)
	t.Cleanup(svc.Wait)
	return &env{svc: svc, repo: mem, mail: box, clock: clk, issuer: issuer}
}

var (
	verifyLink = regexp.MustCompile(`/verify/([A-Za-z0-9_.-]+)`)
	resetLink  = regexp.MustCompile(`/reset-password/([0-9a-f]{64})`)
)

func (e *env) lastToken(t *testing.T, to string, re *regexp.Regexp) string {
	t.Helper()
	e.svc.Wait()
	m := re.FindStringSubmatch(e.mail.lastTo(t, to).HTML)
	require.Len(t, m, 2, "link not found in email")
	return m[1]
}

func (e *env) register(t *testing.T, email, password string) *domain.Account {
	t.Helper()
	acc, err := e.svc.Register(context.Background(), auth.RegisterInput{
		Name:            "Jane",
		Lastname:        "Doe",
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	require.NoError(t, err)
	return acc
}

func (e *env) registerVerified(t *testing.T, email, password string) *domain.Account {
	t.Helper()
	acc := e.register(t, email, password)
	require.NoError(t, e.svc.VerifyEmail(context.Background(), e.lastToken(t, acc.Email, verifyLink)))
	return acc
}

func requireKind(t *testing.T, want domain.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	var de *domain.Error
	require.True(t, errors.As(err, &de), "not a domain error: %v", err)
	require.Equal(t, want.String(), de.Kind.String(), "error: %v", err)
}
