// Package store persists user accounts.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// InMemoryStore stores users in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[string]id.UserID
}

// NewMemory constructs an empty in-memory user store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user already exists: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return fmt.Errorf("email already registered: %w", sentinel.ErrAlreadyUsed)
	}
	s.users[user.ID] = user.Clone()
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[userID]; ok {
		return user.Clone(), nil
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID, ok := s.byEmail[email]; ok {
		return s.users[userID].Clone(), nil
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

// SetCurrentSession overwrites the user's authoritative session token.
// The write is unconditional: when two logins race, the later write wins and
// the earlier session is invalidated on its next request.
func (s *InMemoryStore) SetCurrentSession(_ context.Context, userID id.UserID, token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	if token == "" {
		user.CurrentSessionID = nil
	} else {
		stamp := token
		user.CurrentSessionID = &stamp
	}
	user.UpdatedAt = now
	return nil
}
