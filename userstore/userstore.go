package userstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no credential matches the lookup.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicateEmail is returned by Create when an active credential already uses the email.
	ErrDuplicateEmail = errors.New("credential email already in use")
	// ErrHashChanged is returned by UpdatePasswordHashIf when the stored hash
	// no longer equals the expected one.
	ErrHashChanged = errors.New("credential password hash changed")
)

// Credential is the part of a user record the auth flows read and write.
type Credential struct {
	ID            string
	Email         string
	PasswordHash  string
	Deleted       bool
	RoleID        string
	PermissionIDs []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the credential persistence contract.
//
// FindByEmail prefers the active credential for an email and falls back to
// the most recently deleted one, so callers can tell "never existed" from
// "deleted". Emails are compared case-insensitively.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Credential, error)
	FindByID(ctx context.Context, id string) (Credential, error)
	// Create persists c and returns it with ID and timestamps filled in.
	Create(ctx context.Context, c Credential) (Credential, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	// UpdatePasswordHashIf replaces the hash only while it still equals
	// expected, returning ErrHashChanged otherwise.
	UpdatePasswordHashIf(ctx context.Context, id, expected, passwordHash string) error
}
