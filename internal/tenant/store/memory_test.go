package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.InMemoryStore
	outbox *outbox.InMemoryStore
	now    time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.outbox = outbox.NewMemory()
	s.store = store.NewMemory(store.WithOutbox(s.outbox))
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) seed(status models.SubscriptionStatus, endsAt *time.Time) *models.Tenant {
	tenant := &models.Tenant{
		ID:                     id.TenantID(uuid.New()),
		Name:                   "Acme Salon",
		Email:                  "owner@acme.test",
		Status:                 status,
		NotificationDaysBefore: 3,
		CreatedAt:              s.now,
		UpdatedAt:              s.now,
	}
	switch status {
	case models.StatusTrial:
		tenant.TrialEndsAt = endsAt
	case models.StatusActive:
		tenant.SubscriptionEndsAt = endsAt
	}
	s.Require().NoError(s.store.Create(s.ctx, tenant))
	return tenant
}

func ptrTime(t time.Time) *time.Time { return &t }

func (s *MemoryStoreSuite) TestCreateAndFind() {
	tenant := s.seed(models.StatusTrial, ptrTime(s.now.Add(24*time.Hour)))

	found, err := s.store.FindByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal(tenant.ID, found.ID)
	s.Equal("Acme Salon", found.Name)

	s.Run("duplicate create is rejected", func() {
		err := s.store.Create(s.ctx, tenant)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("missing tenant returns not found", func() {
		_, err := s.store.FindByID(s.ctx, id.TenantID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("store hands out clones", func() {
		found.Name = "Mutated"
		again, err := s.store.FindByID(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal("Acme Salon", again.Name)
	})
}

func (s *MemoryStoreSuite) TestSelections() {
	expiringTrial := s.seed(models.StatusTrial, ptrTime(s.now.Add(48*time.Hour)))
	expiredTrial := s.seed(models.StatusTrial, ptrTime(s.now.Add(-time.Hour)))
	expiringSub := s.seed(models.StatusActive, ptrTime(s.now.Add(48*time.Hour)))
	expiredSub := s.seed(models.StatusActive, ptrTime(s.now.Add(-time.Hour)))
	s.seed(models.StatusActive, nil)    // perpetual plan
	s.seed(models.StatusExpired, nil)   // already expired

	s.Run("expiring trials", func() {
		got, err := s.store.ListExpiringTrials(s.ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(expiringTrial.ID, got[0].ID)
	})

	s.Run("expired trials", func() {
		got, err := s.store.ListExpiredTrials(s.ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(expiredTrial.ID, got[0].ID)
	})

	s.Run("expiring subscriptions", func() {
		got, err := s.store.ListExpiringSubscriptions(s.ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(expiringSub.ID, got[0].ID)
	})

	s.Run("expired subscriptions", func() {
		got, err := s.store.ListExpiredSubscriptions(s.ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(expiredSub.ID, got[0].ID)
	})

	s.Run("end date exactly now counts as expired", func() {
		onBoundary := s.seed(models.StatusTrial, ptrTime(s.now))
		got, err := s.store.ListExpiredTrials(s.ctx, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		ids := []id.TenantID{got[0].ID, got[1].ID}
		s.Contains(ids, onBoundary.ID)
	})
}

func (s *MemoryStoreSuite) TestExpireClaim() {
	tenant := s.seed(models.StatusTrial, ptrTime(s.now.Add(-time.Hour)))

	s.Run("first claim wins and enqueues the notice", func() {
		claimed, err := s.store.Expire(s.ctx, tenant.ID, models.StatusTrial, s.now, outbox.NewExpired(tenant, s.now))
		s.Require().NoError(err)
		s.True(claimed)

		stored, err := s.store.FindByID(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, stored.Status)

		pending, err := s.outbox.Pending(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(outbox.KindExpired, pending[0].Kind)
		s.Equal(tenant.ID, pending[0].TenantID)
	})

	s.Run("second claim loses without error and enqueues nothing", func() {
		claimed, err := s.store.Expire(s.ctx, tenant.ID, models.StatusTrial, s.now, outbox.NewExpired(tenant, s.now))
		s.Require().NoError(err)
		s.False(claimed)

		pending, err := s.outbox.Pending(s.ctx)
		s.Require().NoError(err)
		s.Len(pending, 1)
	})

	s.Run("missing tenant returns not found", func() {
		_, err := s.store.Expire(s.ctx, id.TenantID(uuid.New()), models.StatusTrial, s.now, nil)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("notification without an attached outbox is refused", func() {
		bare := store.NewMemory()
		other := s.seed(models.StatusTrial, ptrTime(s.now.Add(-time.Hour)))
		s.Require().NoError(bare.Create(s.ctx, other))

		_, err := bare.Expire(s.ctx, other.ID, models.StatusTrial, s.now, outbox.NewExpired(other, s.now))
		s.Require().Error(err)

		// The claim rolled back with the refused enqueue.
		stored, err := bare.FindByID(s.ctx, other.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusTrial, stored.Status)
	})
}

func (s *MemoryStoreSuite) TestExpireClaimUnderContention() {
	tenant := s.seed(models.StatusActive, ptrTime(s.now.Add(-time.Hour)))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.store.Expire(s.ctx, tenant.ID, models.StatusActive, s.now, outbox.NewExpired(tenant, s.now))
			s.NoError(err)
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for claimed := range wins {
		if claimed {
			won++
		}
	}
	s.Equal(1, won)

	// Exactly one notice accompanies the single successful claim.
	pending, err := s.outbox.Pending(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *MemoryStoreSuite) TestMarkNotified() {
	tenant := s.seed(models.StatusTrial, ptrTime(s.now.Add(48*time.Hour)))

	s.Require().NoError(s.store.MarkNotified(s.ctx, tenant.ID, s.now))

	stored, err := s.store.FindByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.LastNotifiedAt)
	s.Equal(s.now, *stored.LastNotifiedAt)

	s.Run("missing tenant returns not found", func() {
		err := s.store.MarkNotified(s.ctx, id.TenantID(uuid.New()), s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
