package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/domain"
)

const testID = "5f0c1c1e-8f0a-4e7b-9d55-0c8d2b6a9f10"

func newPostgresWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db), mock
}

var accountRowColumns = []string{
	"id", "email", "password_digest", "display_name", "family_name", "role",
	"is_verified", "is_external_identity", "avatar_ref", "reset_token_digest", "reset_token_expiry",
	"created_at", "updated_at",
}

func TestPostgres_FindByEmail(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	expiry := created.Add(time.Hour)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*email.*FROM\s+accounts\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
			testID, "ada@example.com", "digest", "Ada", "Lovelace", "admin",
			true, false, "", "reset", expiry, created, created,
		))

	got, err := p.FindByEmail(context.Background(), " Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, testID, got.ID)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.Equal(t, "digest", got.PasswordDigest)
	assert.Equal(t, "reset", got.ResetTokenDigest)
	require.NotNil(t, got.ResetTokenExpiry)
	assert.True(t, expiry.Equal(*got.ResetTokenExpiry))
}

func TestPostgres_FindByEmail_NotFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	mock.ExpectQuery(`FROM\s+accounts\s+WHERE\s+email`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := p.FindByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgres_FindByID_InvalidID(t *testing.T) {
	p, _ := newPostgresWithMock(t)
	_, err := p.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgres_Create(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+accounts`).
		WithArgs(sqlmock.AnyArg(), "ada@example.com", sqlmock.AnyArg(), "Ada", "", "user",
			false, false, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a := &domain.Account{Email: "ADA@example.com", PasswordDigest: "d", DisplayName: "Ada"}
	id, err := p.Create(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, "ada@example.com", a.Email)
	assert.Equal(t, domain.RoleUser, a.Role)
}

func TestPostgres_Create_UniqueViolation(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	_, err := p.Create(context.Background(), &domain.Account{Email: "a@example.com", PasswordDigest: "d"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestPostgres_Create_DBError(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).WillReturnError(errors.New("db down"))

	_, err := p.Create(context.Background(), &domain.Account{Email: "a@example.com", PasswordDigest: "d"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestPostgres_SetVerified(t *testing.T) {
	t.Run("flips", func(t *testing.T) {
		p, mock := newPostgresWithMock(t)
		mock.ExpectExec(`(?s)UPDATE\s+accounts\s+SET\s+is_verified\s*=\s*TRUE.*NOT\s+is_verified`).
			WithArgs(testID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, p.SetVerified(context.Background(), testID))
	})
	t.Run("already verified", func(t *testing.T) {
		p, mock := newPostgresWithMock(t)
		mock.ExpectExec(`UPDATE\s+accounts\s+SET\s+is_verified`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT\s+EXISTS`).
			WithArgs(testID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		assert.ErrorIs(t, p.SetVerified(context.Background(), testID), domain.ErrAlreadyVerified)
	})
	t.Run("missing", func(t *testing.T) {
		p, mock := newPostgresWithMock(t)
		mock.ExpectExec(`UPDATE\s+accounts\s+SET\s+is_verified`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT\s+EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		assert.ErrorIs(t, p.SetVerified(context.Background(), testID), domain.ErrNotFound)
	})
}

func TestPostgres_RedeemResetDigest(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("live", func(t *testing.T) {
		p, mock := newPostgresWithMock(t)
		mock.ExpectQuery(`(?s)UPDATE\s+accounts.*WHERE\s+reset_token_digest\s*=\s*\$1\s+AND\s+reset_token_expiry\s*>\s*\$2.*RETURNING`).
			WithArgs("dg", now, "newpw", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
				testID, "ada@example.com", "newpw", "Ada", "", "user",
				true, false, "", nil, nil, now, now,
			))
		got, err := p.RedeemResetDigest(context.Background(), "dg", now, "newpw")
		require.NoError(t, err)
		assert.Equal(t, "newpw", got.PasswordDigest)
		assert.Nil(t, got.ResetTokenExpiry)
	})
	t.Run("spent", func(t *testing.T) {
		p, mock := newPostgresWithMock(t)
		mock.ExpectQuery(`UPDATE\s+accounts`).WillReturnError(sql.ErrNoRows)
		_, err := p.RedeemResetDigest(context.Background(), "dg", now, "newpw")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPostgres_Update_BuildsSetClause(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	avatar := "https://cdn/x.png"
	mock.ExpectExec(`^UPDATE accounts SET updated_at = \$1, avatar_ref = \$2 WHERE id = \$3$`).
		WithArgs(sqlmock.AnyArg(), avatar, testID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, p.Update(context.Background(), testID, domain.AccountPatch{AvatarRef: &avatar}))
}

func TestPostgres_Update_UnknownRole(t *testing.T) {
	p, _ := newPostgresWithMock(t)
	role := domain.Role("root")

	err := p.Update(context.Background(), testID, domain.AccountPatch{Role: &role})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPostgres_Migrate(t *testing.T) {
	p, _ := newPostgresWithMock(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var dir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, d string, _ ...goose.OptionsFunc) error {
		dir = d
		return nil
	}
	require.NoError(t, p.Migrate(context.Background()))
	assert.Equal(t, ".", dir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.ErrorContains(t, p.Migrate(context.Background()), "boom")
}
