package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/auth"
	"github.com/tazhibayda/auth-api/internal/domain"
	api "github.com/tazhibayda/auth-api/internal/http"
	"github.com/tazhibayda/auth-api/internal/repo"
	"github.com/tazhibayda/auth-api/internal/security"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	clientURL    = "http://client.test"
	strongPass   = "StrongP@ss1"
	anotherPass  = "N3wPass!word"
	janeEmail    = "jane@example.com"
	disposableTo = "bot@mailinator.com"
)

var (
	verifyLink = regexp.MustCompile(`/verify/([A-Za-z0-9_.-]+)`)
	resetLink  = regexp.MustCompile(`/reset-password/([0-9a-f]{64})`)
)

type outbox struct {
	mu   sync.Mutex
	sent []domain.Email
}

func (o *outbox) Send(_ context.Context, msg domain.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

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

func (b *bridge) Exchange(context.Context, string) (*domain.ExternalIdentity, error) {
	return b.id, b.err
}

type images struct {
	mu   sync.Mutex
	keys []string
	data map[string][]byte
}

func (i *images) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.data == nil {
		i.data = map[string][]byte{}
	}
	i.keys = append(i.keys, key)
	i.data[key] = b
	return "https://cdn.test/" + key, nil
}

func (i *images) Delete(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.data, key)
	return nil
}

// google is a GoogleFlow with a fixed state.
type google struct{}

func (google) NewState() string            { return "raw" }
func (google) MakeState(raw string) string { return raw + ".sig" }
func (google) VerifyState(got string) bool { return got == "raw.sig" }
func (google) AuthURL(state string) string { return "https://accounts.test/auth?state=" + state }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// brokenRepo fails every email lookup.
type brokenRepo struct {
	*repo.Memory
}

func (brokenRepo) FindByEmail(context.Context, string) (*domain.Account, error) {
	return nil, errors.New("connection reset by peer")
}

type testEnv struct {
	T       *testing.T
	Repo    *repo.Memory
	Service *auth.Service
	Handler *api.Handler
	Router  *gin.Engine
	Mail    *outbox
	Images  *images
	Bridge  *bridge
}

type envOption func(*envConfig)

type envConfig struct {
	repo    domain.AccountRepository
	limiter api.Counter
	limit   int
	store   api.Pinger
	inURL   bool
}

func withRepo(r domain.AccountRepository) envOption { return func(c *envConfig) { c.repo = r } }
func withStore(p api.Pinger) envOption              { return func(c *envConfig) { c.store = p } }
func withTokenInRedirect() envOption                { return func(c *envConfig) { c.inURL = true } }
func withLimiter(l api.Counter, limit int) envOption {
	return func(c *envConfig) { c.limiter, c.limit = l, limit }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := repo.NewMemory()
	cfg := envConfig{repo: mem, store: mem}
	for _, o := range opts {
		o(&cfg)
	}

	box := &outbox{}
	imgs := &images{}
	br := &bridge{}
	svc := auth.NewService(cfg.repo, security.NewHasher(bcrypt.MinCost), security.NewIssuer("test-secret"),
		auth.WithMailer(box),
		auth.WithQualityChecker(checker{disposableTo: "disposable"}),
		auth.WithIdentityBridge(br),
		auth.WithImageStore(imgs),
		auth.WithClientURL(clientURL),
		auth.WithResetPepper([]byte("pepper")),
		auth.WithLogger(zap.NewNop()),
	)
	t.Cleanup(svc.Wait)

	h := api.NewHandler(svc, cfg.store, clientURL, false)
	h.Google = google{}
	h.TokenInRedirect = cfg.inURL

	r := api.NewRouter(h, api.RouterOptions{
		Logger:          zap.NewNop(),
		CORSOrigins:     []string{clientURL},
		Limiter:         cfg.limiter,
		RateLimitMax:    cfg.limit,
		RateLimitWindow: time.Minute,
	})
	return &testEnv{T: t, Repo: mem, Service: svc, Handler: h, Router: r, Mail: box, Images: imgs, Bridge: br}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	e.T.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	return e.do(req)
}

func (e *testEnv) lastToken(to string, re *regexp.Regexp) string {
	e.T.Helper()
	e.Service.Wait()
	m := re.FindStringSubmatch(e.Mail.lastTo(e.T, to).HTML)
	require.Len(e.T, m, 2, "link not found in email")
	return m[1]
}

func registerBody(email string) map[string]string {
	return map[string]string{
		"name":            "Jane",
		"lastname":        "Doe",
		"email":           email,
		"password":        strongPass,
		"confirmPassword": strongPass,
	}
}

// registerVerified registers email through the API and follows the
// verification link.
func (e *testEnv) registerVerified(email string) {
	e.T.Helper()
	w := e.doJSON(http.MethodPost, "/api/auth/register", registerBody(email))
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())
	w = e.doJSON(http.MethodGet, "/api/auth/verify/"+e.lastToken(email, verifyLink), nil)
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) login(email, password string) *httptest.ResponseRecorder {
	return e.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
