package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// Appender receives the notification enqueued together with an expire claim.
type Appender interface {
	Append(ctx context.Context, n *outbox.Notification) error
}

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryStore stores tenants in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
	outbox  Appender
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*InMemoryStore)

// WithOutbox attaches the outbox that Expire enqueues into. The store's
// mutex covers both the claim and the enqueue, matching the single
// transaction the Postgres store uses.
func WithOutbox(a Appender) MemoryOption {
	return func(s *InMemoryStore) {
		s.outbox = a
	}
}

// NewMemory constructs an empty in-memory tenant store.
func NewMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{tenants: make(map[id.TenantID]*models.Tenant)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Create(_ context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; ok {
		return fmt.Errorf("tenant already exists: %w", sentinel.ErrAlreadyUsed)
	}
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tenant, ok := s.tenants[tenantID]; ok {
		return tenant.Clone(), nil
	}
	return nil, fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Update(_ context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; !ok {
		return fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
	}
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

// List returns all tenants ordered by creation time.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		tenants = append(tenants, t.Clone())
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].CreatedAt.Before(tenants[j].CreatedAt)
	})
	return tenants, nil
}

// ListExpiringTrials returns trial tenants whose trial ends after now.
func (s *InMemoryStore) ListExpiringTrials(_ context.Context, now time.Time) ([]*models.Tenant, error) {
	return s.selectTenants(func(t *models.Tenant) bool {
		return t.Status == models.StatusTrial && t.TrialEndsAt != nil && t.TrialEndsAt.After(now)
	}), nil
}

// ListExpiredTrials returns trial tenants whose trial ended at or before now.
func (s *InMemoryStore) ListExpiredTrials(_ context.Context, now time.Time) ([]*models.Tenant, error) {
	return s.selectTenants(func(t *models.Tenant) bool {
		return t.Status == models.StatusTrial && t.TrialEndsAt != nil && !t.TrialEndsAt.After(now)
	}), nil
}

// ListExpiringSubscriptions returns active tenants whose subscription ends after now.
// Perpetual plans (no end date) are never selected.
func (s *InMemoryStore) ListExpiringSubscriptions(_ context.Context, now time.Time) ([]*models.Tenant, error) {
	return s.selectTenants(func(t *models.Tenant) bool {
		return t.Status == models.StatusActive && t.SubscriptionEndsAt != nil && t.SubscriptionEndsAt.After(now)
	}), nil
}

// ListExpiredSubscriptions returns active tenants whose subscription ended at or before now.
// Perpetual plans (no end date) are never selected.
func (s *InMemoryStore) ListExpiredSubscriptions(_ context.Context, now time.Time) ([]*models.Tenant, error) {
	return s.selectTenants(func(t *models.Tenant) bool {
		return t.Status == models.StatusActive && t.SubscriptionEndsAt != nil && !t.SubscriptionEndsAt.After(now)
	}), nil
}

func (s *InMemoryStore) selectTenants(pred func(*models.Tenant) bool) []*models.Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Tenant
	for _, t := range s.tenants {
		if pred(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expire atomically transitions the tenant to expired if it is still in the
// expected source state, and enqueues note with the claim. Returns true only
// for the caller that won the claim, so concurrent runs process each tenant
// at most once. The claim and the enqueue happen under one lock: a winner
// either records both the transition and the notification, or neither.
func (s *InMemoryStore) Expire(ctx context.Context, tenantID id.TenantID, from models.SubscriptionStatus, now time.Time, note *outbox.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return false, fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
	}
	if tenant.Status != from {
		return false, nil
	}
	if note != nil && s.outbox == nil {
		return false, fmt.Errorf("expire tenant: no outbox attached for notification")
	}

	prevStatus, prevUpdated := tenant.Status, tenant.UpdatedAt
	tenant.Status = models.StatusExpired
	tenant.UpdatedAt = now

	if note != nil {
		if err := s.outbox.Append(ctx, note); err != nil {
			tenant.Status = prevStatus
			tenant.UpdatedAt = prevUpdated
			return false, fmt.Errorf("enqueue expire notification: %w", err)
		}
	}
	return true, nil
}

// MarkNotified stamps the daily notification throttle.
func (s *InMemoryStore) MarkNotified(_ context.Context, tenantID id.TenantID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
	}
	tenant.MarkNotified(now)
	return nil
}
