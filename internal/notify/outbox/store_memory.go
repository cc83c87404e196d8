package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// InMemoryStore stores notifications in memory for tests/dev.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[id.NotificationID]*Notification
}

// NewMemory constructs an empty in-memory outbox store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{notifications: make(map[id.NotificationID]*Notification)}
}

func (s *InMemoryStore) Append(_ context.Context, n *Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *n
	s.notifications[n.ID] = &clone
	return nil
}

// Claim stamps up to limit pending notifications as owned by the caller and
// returns them oldest first. Entries another sender claimed less than
// ClaimLease ago are skipped.
func (s *InMemoryStore) Claim(_ context.Context, limit int, now time.Time) ([]*Notification, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimable []*Notification
	for _, n := range s.notifications {
		if n.IsPending() && (n.ClaimedAt == nil || now.Sub(*n.ClaimedAt) >= ClaimLease) {
			claimable = append(claimable, n)
		}
	}
	sort.Slice(claimable, func(i, j int) bool {
		return claimable[i].CreatedAt.Before(claimable[j].CreatedAt)
	})
	if len(claimable) > limit {
		claimable = claimable[:limit]
	}

	out := make([]*Notification, 0, len(claimable))
	for _, n := range claimable {
		stamp := now
		n.ClaimedAt = &stamp
		clone := *n
		out = append(out, &clone)
	}
	return out, nil
}

// Pending returns undelivered notifications oldest first without claiming
// them. Read-only view for inspection.
func (s *InMemoryStore) Pending(_ context.Context) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*Notification
	for _, n := range s.notifications {
		if n.IsPending() {
			clone := *n
			pending = append(pending, &clone)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *InMemoryStore) MarkSent(_ context.Context, notificationID id.NotificationID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[notificationID]
	if !ok {
		return fmt.Errorf("notification not found: %w", sentinel.ErrNotFound)
	}
	if !n.IsPending() {
		return fmt.Errorf("notification already sent: %w", sentinel.ErrAlreadyUsed)
	}
	stamp := sentAt
	n.SentAt = &stamp
	return nil
}

func (s *InMemoryStore) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.notifications {
		if n.IsPending() {
			count++
		}
	}
	return count, nil
}

// DeleteSentBefore removes delivered notifications older than the given time.
func (s *InMemoryStore) DeleteSentBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, n := range s.notifications {
		if n.SentAt != nil && n.SentAt.Before(before) {
			delete(s.notifications, key)
			deleted++
		}
	}
	return deleted, nil
}
