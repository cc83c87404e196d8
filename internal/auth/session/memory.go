package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// InMemoryStore stores sessions in memory for tests/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, sess *models.Session) error {
	if sess == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session already exists: %w", sentinel.ErrAlreadyUsed)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Save(_ context.Context, sess *models.Session) error {
	if sess == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}
