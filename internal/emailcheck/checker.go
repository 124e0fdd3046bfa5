// Package emailcheck rejects disposable and role-based addresses at sign-up.
package emailcheck

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/helper"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"go.uber.org/zap"
)

const (
	ReasonFormat     = "invalid email format"
	ReasonDisposable = "temporary or disposable email addresses are not allowed, please use a permanent address"
	ReasonRole       = "generic addresses such as contact@ or support@ are not accepted, please use a personal address"

	DefaultKickboxURL = "https://api.kickbox.com/v2/verify"
	lookupTimeout     = 3 * time.Second
)

//go:embed blocked_domains.json
var blockedJSON []byte

type Checker struct {
	blocked  map[string]struct{}
	apiKey   string
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

type Option func(*Checker)

// WithKickbox enables the remote lookup. An empty key leaves it off.
func WithKickbox(apiKey, endpoint string) Option {
	return func(c *Checker) {
		c.apiKey = apiKey
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Checker) { c.client = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// WithBlockedDomains extends the embedded list.
func WithBlockedDomains(domains ...string) Option {
	return func(c *Checker) {
		for _, d := range domains {
			c.blocked[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
		}
	}
}

func New(opts ...Option) (*Checker, error) {
	var list struct {
		BlockedDomains []string `json:"blockedDomains"`
	}
	if err := json.Unmarshal(blockedJSON, &list); err != nil {
		return nil, fmt.Errorf("blocked domains: %w", err)
	}
	c := &Checker{
		blocked:  make(map[string]struct{}, len(list.BlockedDomains)),
		endpoint: DefaultKickboxURL,
		client:   &http.Client{Timeout: lookupTimeout},
	}
	for _, d := range list.BlockedDomains {
		c.blocked[strings.ToLower(d)] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Checker) Check(ctx context.Context, email string) domain.EmailVerdict {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return domain.EmailVerdict{Reason: ReasonFormat}
	}
	if c.blockedDomain(strings.ToLower(email[at+1:])) {
		return domain.EmailVerdict{Reason: ReasonDisposable}
	}
	if c.apiKey == "" {
		return domain.EmailVerdict{Valid: true}
	}

	res, err := c.kickbox(ctx, email)
	if err != nil {
		logpkg.WithDD(ctx, c.log, zap.String("email", helper.EmailRef(email))).
			Warn("kickbox lookup failed, accepting address", zap.Error(err))
		return domain.EmailVerdict{Valid: true}
	}
	switch {
	case res.Result == "undeliverable" || res.Disposable:
		return domain.EmailVerdict{Reason: ReasonDisposable}
	case res.Role:
		return domain.EmailVerdict{Reason: ReasonRole}
	}
	return domain.EmailVerdict{Valid: true}
}

// blockedDomain matches the domain itself or any sub-domain of a listed one.
func (c *Checker) blockedDomain(d string) bool {
	for {
		if _, ok := c.blocked[d]; ok {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			return false
		}
		d = d[dot+1:]
	}
}

type kickboxResponse struct {
	Result     string `json:"result"`
	Disposable bool   `json:"disposable"`
	Role       bool   `json:"role"`
}

func (c *Checker) kickbox(ctx context.Context, email string) (*kickboxResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("email", email)
	q.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kickbox status %d", resp.StatusCode)
	}
	var out kickboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode kickbox: %w", err)
	}
	return &out, nil
}
