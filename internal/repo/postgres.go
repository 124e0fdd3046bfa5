package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/repo/migrations"
	sqltrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/database/sql"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const pgUniqueViolation = "23505"

const accountColumns = `id, email, password_digest, display_name, family_name, role,
	is_verified, is_external_identity, avatar_ref, reset_token_digest, reset_token_expiry,
	created_at, updated_at`

// Postgres keeps accounts in one table; UNIQUE and CHECK constraints back
// the invariants the service relies on.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.AccountRepository = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

var registerTracedDriver sync.Once

// OpenPostgres connects through the traced pgx driver; spans are no-ops
// unless the tracer is running.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	registerTracedDriver.Do(func() {
		sqltrace.Register("pgx", stdlib.GetDefaultDriver(), sqltrace.WithServiceName("auth-api-postgres"))
	})
	db, err := sqltrace.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, p.db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a        domain.Account
		role     string
		password sql.NullString
		digest   sql.NullString
		expiry   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &password, &a.DisplayName, &a.FamilyName, &role,
		&a.IsVerified, &a.IsExternalIdentity, &a.AvatarRef, &digest, &expiry,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.Role = domain.Role(role)
	a.PasswordDigest = password.String
	a.ResetTokenDigest = digest.String
	if expiry.Valid {
		t := expiry.Time.UTC()
		a.ResetTokenExpiry = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *Postgres) queryAccount(ctx context.Context, op, query string, args ...any) (acc *domain.Account, err error) {
	sp, ctx := startSpan(ctx, "postgresql", op)
	defer func() { sp.Finish(tracer.WithError(ignoreNotFound(err))) }()
	return scanAccount(p.db.QueryRowContext(ctx, query, args...))
}

func (p *Postgres) exec(ctx context.Context, op, query string, args ...any) (n int64, err error) {
	sp, ctx := startSpan(ctx, "postgresql", op)
	defer func() { sp.Finish(tracer.WithError(err)) }()

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (p *Postgres) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return p.queryAccount(ctx, "find_by_email",
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		domain.CanonicalEmail(email))
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	return p.queryAccount(ctx, "find_by_id",
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (p *Postgres) FindByResetDigest(ctx context.Context, digest string, now time.Time) (*domain.Account, error) {
	if digest == "" {
		return nil, domain.ErrNotFound
	}
	return p.queryAccount(ctx, "find_by_reset",
		`SELECT `+accountColumns+` FROM accounts
		 WHERE reset_token_digest = $1 AND reset_token_expiry > $2`,
		digest, now.UTC())
}

func (p *Postgres) Create(ctx context.Context, a *domain.Account) (string, error) {
	id := uuid.NewString()
	email := domain.CanonicalEmail(a.Email)
	role := a.Role
	if role == "" {
		role = domain.RoleUser
	}
	now := p.now().UTC()

	_, err := p.exec(ctx, "insert",
		`INSERT INTO accounts (id, email, password_digest, display_name, family_name, role,
			is_verified, is_external_identity, avatar_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id, email, nullString(a.PasswordDigest), a.DisplayName, a.FamilyName, string(role),
		a.IsVerified, a.IsExternalIdentity, a.AvatarRef, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrEmailTaken
		}
		return "", err
	}
	a.ID, a.Email, a.Role, a.CreatedAt, a.UpdatedAt = id, email, role, now, now
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (p *Postgres) Update(ctx context.Context, id string, patch domain.AccountPatch) error {
	if err := patch.Check(); err != nil {
		return err
	}
	if !validID(id) {
		return domain.ErrNotFound
	}
	sets := []string{"updated_at = $1"}
	args := []any{p.now().UTC()}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.FamilyName != nil {
		add("family_name", *patch.FamilyName)
	}
	if patch.AvatarRef != nil {
		add("avatar_ref", *patch.AvatarRef)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	args = append(args, id)
	q := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = $` + strconv.Itoa(len(args))

	n, err := p.exec(ctx, "update", q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetVerified(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	n, err := p.exec(ctx, "set_verified",
		`UPDATE accounts SET is_verified = TRUE, updated_at = $2
		 WHERE id = $1 AND NOT is_verified`,
		id, p.now().UTC())
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	return p.missingOrVerified(ctx, id)
}

func (p *Postgres) missingOrVerified(ctx context.Context, id string) error {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyVerified
}

func (p *Postgres) SetPassword(ctx context.Context, id, passwordDigest string) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	n, err := p.exec(ctx, "set_password",
		`UPDATE accounts
		 SET password_digest = $2, reset_token_digest = NULL, reset_token_expiry = NULL, updated_at = $3
		 WHERE id = $1`,
		id, passwordDigest, p.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetResetDigest(ctx context.Context, id, digest string, expiry time.Time) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	n, err := p.exec(ctx, "set_reset",
		`UPDATE accounts
		 SET reset_token_digest = $2, reset_token_expiry = $3, updated_at = $4
		 WHERE id = $1`,
		id, digest, expiry.UTC(), p.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) RedeemResetDigest(ctx context.Context, digest string, now time.Time, passwordDigest string) (*domain.Account, error) {
	if digest == "" {
		return nil, domain.ErrNotFound
	}
	return p.queryAccount(ctx, "redeem_reset",
		`UPDATE accounts
		 SET password_digest = $3, reset_token_digest = NULL, reset_token_expiry = NULL, updated_at = $4
		 WHERE reset_token_digest = $1 AND reset_token_expiry > $2
		 RETURNING `+accountColumns,
		digest, now.UTC(), passwordDigest, p.now().UTC())
}

func (p *Postgres) AdoptExternalIdentity(ctx context.Context, id string) (*domain.Account, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	acc, err := p.queryAccount(ctx, "adopt_external",
		`UPDATE accounts
		 SET is_verified = TRUE, is_external_identity = TRUE, password_digest = NULL,
		     reset_token_digest = NULL, reset_token_expiry = NULL, updated_at = $2
		 WHERE id = $1 AND NOT is_verified
		 RETURNING `+accountColumns,
		id, p.now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, p.missingOrVerified(ctx, id)
	}
	return acc, err
}

func (p *Postgres) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return p.exec(ctx, "delete_unverified",
		`DELETE FROM accounts WHERE NOT is_verified AND created_at < $1`, cutoff.UTC())
}

func (p *Postgres) ClearExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	return p.exec(ctx, "clear_expired_resets",
		`UPDATE accounts SET reset_token_digest = NULL, reset_token_expiry = NULL
		 WHERE reset_token_expiry <= $1`, now.UTC())
}
