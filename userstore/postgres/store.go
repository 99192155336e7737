// Package postgres is a pgx-backed userstore.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credflow/userstore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the credentials table. Only one active row may hold an email.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id             uuid PRIMARY KEY,
	email          text NOT NULL,
	password_hash  text NOT NULL,
	deleted        boolean NOT NULL DEFAULT false,
	role_id        text NOT NULL DEFAULT '',
	permission_ids text[] NOT NULL DEFAULT '{}',
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS credentials_active_email_idx
	ON credentials (lower(email)) WHERE NOT deleted;
`

const selectColumns = `id::text, email, password_hash, deleted, role_id, permission_ids, created_at, updated_at`

// Store reads and writes the credentials table.
type Store struct {
	db *pgxpool.Pool
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies Schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate credentials: %w", err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (userstore.Credential, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+`
		 FROM credentials
		 WHERE lower(email) = lower($1)
		 ORDER BY deleted ASC, updated_at DESC
		 LIMIT 1`,
		email)
	return scanCredential(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (userstore.Credential, error) {
	if _, err := uuid.Parse(id); err != nil {
		return userstore.Credential{}, userstore.ErrNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+`
		 FROM credentials
		 WHERE id = $1`,
		id)
	return scanCredential(row)
}

func (s *Store) Create(ctx context.Context, c userstore.Credential) (userstore.Credential, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.PermissionIDs == nil {
		c.PermissionIDs = []string{}
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO credentials (id, email, password_hash, deleted, role_id, permission_ids)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		c.ID, c.Email, c.PasswordHash, c.Deleted, c.RoleID, c.PermissionIDs,
	)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return userstore.Credential{}, userstore.ErrDuplicateEmail
		}
		return userstore.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return c, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return userstore.ErrNotFound
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE credentials SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return userstore.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHashIf(ctx context.Context, id, expected, passwordHash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return userstore.ErrNotFound
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE credentials SET password_hash = $3, updated_at = now() WHERE id = $1 AND password_hash = $2`,
		id, expected, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return userstore.ErrHashChanged
}

func scanCredential(row pgx.Row) (userstore.Credential, error) {
	var c userstore.Credential
	err := row.Scan(
		&c.ID, &c.Email, &c.PasswordHash, &c.Deleted,
		&c.RoleID, &c.PermissionIDs, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return userstore.Credential{}, userstore.ErrNotFound
		}
		return userstore.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
