package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tazhibayda/auth-api/internal/domain"
)

// Memory is a single-writer AccountRepository for development and tests.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*domain.Account
	byEmail map[string]string
	now     func() time.Time
}

var _ domain.AccountRepository = (*Memory)(nil)

type MemoryOption func(*Memory)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byID:    map[string]*domain.Account{},
		byEmail: map[string]string{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func clone(a *domain.Account) *domain.Account {
	cp := *a
	if a.ResetTokenExpiry != nil {
		exp := *a.ResetTokenExpiry
		cp.ResetTokenExpiry = &exp
	}
	return &cp
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[domain.CanonicalEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(a), nil
}

func (m *Memory) FindByResetDigest(_ context.Context, digest string, now time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.liveReset(digest, now); a != nil {
		return clone(a), nil
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) liveReset(digest string, now time.Time) *domain.Account {
	if digest == "" {
		return nil
	}
	for _, a := range m.byID {
		if a.ResetTokenDigest == digest && a.ResetOpen(now) {
			return a
		}
	}
	return nil
}

func (m *Memory) Create(_ context.Context, a *domain.Account) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := domain.CanonicalEmail(a.Email)
	if _, taken := m.byEmail[email]; taken {
		return "", domain.ErrEmailTaken
	}
	rec := clone(a)
	rec.ID = uuid.NewString()
	rec.Email = email
	if rec.Role == "" {
		rec.Role = domain.RoleUser
	}
	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	m.byID[rec.ID] = rec
	m.byEmail[email] = rec.ID
	a.ID, a.Email, a.Role, a.CreatedAt, a.UpdatedAt = rec.ID, rec.Email, rec.Role, now, now
	return rec.ID, nil
}

func (m *Memory) Update(_ context.Context, id string, patch domain.AccountPatch) error {
	if err := patch.Check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if patch.DisplayName != nil {
		a.DisplayName = *patch.DisplayName
	}
	if patch.FamilyName != nil {
		a.FamilyName = *patch.FamilyName
	}
	if patch.AvatarRef != nil {
		a.AvatarRef = *patch.AvatarRef
	}
	if patch.Role != nil {
		a.Role = *patch.Role
	}
	a.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.IsVerified {
		return domain.ErrAlreadyVerified
	}
	a.IsVerified = true
	a.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetPassword(_ context.Context, id, passwordDigest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.PasswordDigest = passwordDigest
	a.ResetTokenDigest, a.ResetTokenExpiry = "", nil
	a.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetResetDigest(_ context.Context, id, digest string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	exp := expiry.UTC()
	a.ResetTokenDigest, a.ResetTokenExpiry = digest, &exp
	a.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) RedeemResetDigest(_ context.Context, digest string, now time.Time, passwordDigest string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.liveReset(digest, now)
	if a == nil {
		return nil, domain.ErrNotFound
	}
	a.PasswordDigest = passwordDigest
	a.ResetTokenDigest, a.ResetTokenExpiry = "", nil
	a.UpdatedAt = m.now().UTC()
	return clone(a), nil
}

func (m *Memory) AdoptExternalIdentity(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.IsVerified {
		return nil, domain.ErrAlreadyVerified
	}
	a.IsVerified, a.IsExternalIdentity = true, true
	a.PasswordDigest = ""
	a.ResetTokenDigest, a.ResetTokenExpiry = "", nil
	a.UpdatedAt = m.now().UTC()
	return clone(a), nil
}

func (m *Memory) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.byID {
		if !a.IsVerified && a.CreatedAt.Before(cutoff) {
			delete(m.byEmail, a.Email)
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ClearExpiredResets(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.byID {
		if a.ResetTokenExpiry != nil && !now.Before(*a.ResetTokenExpiry) {
			a.ResetTokenDigest, a.ResetTokenExpiry = "", nil
			n++
		}
	}
	return n, nil
}
