// Package memory is an in-process userstore.Store.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/credflow/userstore"
	"github.com/google/uuid"
)

// Store keeps credentials in a map guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]userstore.Credential
	order []string
	now   func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID: make(map[string]userstore.Credential),
		now:  time.Now,
	}
}

func (s *Store) FindByEmail(_ context.Context, email string) (userstore.Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		deleted userstore.Credential
		found   bool
	)
	for _, id := range s.order {
		c := s.byID[id]
		if strings.ToLower(c.Email) != email {
			continue
		}
		if !c.Deleted {
			return clone(c), nil
		}
		deleted, found = c, true
	}
	if found {
		return clone(deleted), nil
	}
	return userstore.Credential{}, userstore.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (userstore.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return userstore.Credential{}, userstore.ErrNotFound
	}
	return clone(c), nil
}

func (s *Store) Create(_ context.Context, c userstore.Credential) (userstore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.Deleted {
		for _, existing := range s.byID {
			if !existing.Deleted && strings.EqualFold(existing.Email, c.Email) {
				return userstore.Credential{}, userstore.ErrDuplicateEmail
			}
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.byID[c.ID]; ok {
		return userstore.Credential{}, userstore.ErrDuplicateEmail
	}

	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c = clone(c)
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)

	return clone(c), nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return userstore.ErrNotFound
	}
	c.PasswordHash = passwordHash
	c.UpdatedAt = s.now()
	s.byID[id] = c
	return nil
}

func (s *Store) UpdatePasswordHashIf(_ context.Context, id, expected, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return userstore.ErrNotFound
	}
	if c.PasswordHash != expected {
		return userstore.ErrHashChanged
	}
	c.PasswordHash = passwordHash
	c.UpdatedAt = s.now()
	s.byID[id] = c
	return nil
}

// MarkDeleted soft-deletes a credential. It exists for account-management
// code and tests; the auth flows never delete users.
func (s *Store) MarkDeleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return userstore.ErrNotFound
	}
	c.Deleted = true
	c.UpdatedAt = s.now()
	s.byID[id] = c
	return nil
}

// Len returns the number of stored credentials, deleted ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clone(c userstore.Credential) userstore.Credential {
	if c.PermissionIDs != nil {
		c.PermissionIDs = append([]string(nil), c.PermissionIDs...)
	}
	return c
}
