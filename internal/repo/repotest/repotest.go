// Package repotest is a behavioural suite every AccountRepository must pass.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/domain"
)

// Factory returns an empty repository; it is called once per subtest.
type Factory func(t *testing.T) domain.AccountRepository

func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newRepo(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newRepo(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newRepo(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newRepo(t)) })
	t.Run("SetVerified", func(t *testing.T) { testSetVerified(t, newRepo(t)) })
	t.Run("ResetWindow", func(t *testing.T) { testResetWindow(t, newRepo(t)) })
	t.Run("RedeemOnce", func(t *testing.T) { testRedeemOnce(t, newRepo(t)) })
	t.Run("SetPasswordClearsReset", func(t *testing.T) { testSetPasswordClearsReset(t, newRepo(t)) })
	t.Run("AdoptExternalIdentity", func(t *testing.T) { testAdopt(t, newRepo(t)) })
	t.Run("Sweep", func(t *testing.T) { testSweep(t, newRepo(t)) })
}

func newAccount(email string) *domain.Account {
	return &domain.Account{
		Email:          email,
		PasswordDigest: "$2a$04$digest",
		DisplayName:    "Ada",
		FamilyName:     "Lovelace",
	}
}

func mustCreate(t *testing.T, r domain.AccountRepository, a *domain.Account) string {
	t.Helper()
	id, err := r.Create(context.Background(), a)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testCreateAndFind(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("  Ada@Example.COM "))

	got, err := r.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, domain.RoleUser, got.Role)
	assert.False(t, got.IsVerified)
	assert.False(t, got.CreatedAt.IsZero())

	byID, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Email, byID.Email)

	_, err = r.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.FindByID(ctx, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDuplicateEmail(t *testing.T, r domain.AccountRepository) {
	mustCreate(t, r, newAccount("dup@example.com"))
	_, err := r.Create(context.Background(), newAccount("DUP@example.com"))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func testConcurrentCreate(t *testing.T, r domain.AccountRepository) {
	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(context.Background(), newAccount("race@example.com"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case domain.KindOf(err) == domain.KindEmailTaken:
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)
}

func testUpdate(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("patch@example.com"))

	avatar := "https://cdn.example.com/a.png"
	admin := domain.RoleAdmin
	require.NoError(t, r.Update(ctx, id, domain.AccountPatch{AvatarRef: &avatar, Role: &admin}))

	got, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, avatar, got.AvatarRef)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.Equal(t, "Ada", got.DisplayName)

	missing := "00000000-0000-4000-8000-000000000000"
	assert.ErrorIs(t, r.Update(ctx, missing, domain.AccountPatch{AvatarRef: &avatar}), domain.ErrNotFound)

	root := domain.Role("root")
	assert.ErrorIs(t, r.Update(ctx, id, domain.AccountPatch{Role: &root}), domain.ErrValidation)
	got, err = r.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
}

func testSetVerified(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("verify@example.com"))

	require.NoError(t, r.SetVerified(ctx, id))
	assert.ErrorIs(t, r.SetVerified(ctx, id), domain.ErrAlreadyVerified)

	got, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
}

func testResetWindow(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("reset@example.com"))
	now := time.Now().UTC().Truncate(time.Second)
	expiry := now.Add(time.Hour)

	require.NoError(t, r.SetResetDigest(ctx, id, "digest-1", expiry))

	got, err := r.FindByResetDigest(ctx, "digest-1", now)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.ResetTokenExpiry)
	assert.WithinDuration(t, expiry, *got.ResetTokenExpiry, time.Millisecond)

	_, err = r.FindByResetDigest(ctx, "digest-1", expiry)
	assert.ErrorIs(t, err, domain.ErrNotFound, "window is closed at the expiry instant")
	_, err = r.FindByResetDigest(ctx, "other", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.FindByResetDigest(ctx, "", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRedeemOnce(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("redeem@example.com"))
	now := time.Now().UTC()
	require.NoError(t, r.SetResetDigest(ctx, id, "digest-2", now.Add(time.Hour)))

	_, err := r.RedeemResetDigest(ctx, "digest-2", now.Add(time.Hour), "new")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := r.RedeemResetDigest(ctx, "digest-2", now, "new-digest")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "new-digest", got.PasswordDigest)
	assert.Empty(t, got.ResetTokenDigest)
	assert.Nil(t, got.ResetTokenExpiry)

	_, err = r.RedeemResetDigest(ctx, "digest-2", now, "again")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSetPasswordClearsReset(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("setpw@example.com"))
	require.NoError(t, r.SetResetDigest(ctx, id, "digest-3", time.Now().Add(time.Hour)))
	require.NoError(t, r.SetPassword(ctx, id, "replaced"))

	got, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.PasswordDigest)
	assert.Empty(t, got.ResetTokenDigest)
	assert.Nil(t, got.ResetTokenExpiry)
}

func testAdopt(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	id := mustCreate(t, r, newAccount("adopt@example.com"))
	require.NoError(t, r.SetResetDigest(ctx, id, "digest-4", time.Now().Add(time.Hour)))

	got, err := r.AdoptExternalIdentity(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.True(t, got.IsExternalIdentity)
	assert.False(t, got.HasPassword())
	assert.Empty(t, got.ResetTokenDigest)

	_, err = r.AdoptExternalIdentity(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func testSweep(t *testing.T, r domain.AccountRepository) {
	ctx := context.Background()
	stale := mustCreate(t, r, newAccount("stale@example.com"))
	kept := mustCreate(t, r, newAccount("kept@example.com"))
	require.NoError(t, r.SetVerified(ctx, kept))

	now := time.Now().UTC()
	require.NoError(t, r.SetResetDigest(ctx, kept, "expired", now.Add(-time.Minute)))

	cleared, err := r.ClearExpiredResets(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	deleted, err := r.DeleteUnverifiedBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = r.FindByID(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := r.FindByID(ctx, kept)
	require.NoError(t, err)
	assert.Empty(t, got.ResetTokenDigest)
}
