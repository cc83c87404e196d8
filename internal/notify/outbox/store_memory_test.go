package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

type OutboxSuite struct {
	suite.Suite
	ctx   context.Context
	store *outbox.InMemoryStore
	now   time.Time
}

func TestOutboxSuite(t *testing.T) {
	suite.Run(t, new(OutboxSuite))
}

func (s *OutboxSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = outbox.NewMemory()
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *OutboxSuite) tenant() *models.Tenant {
	return &models.Tenant{
		ID:    id.TenantID(uuid.New()),
		Name:  "Acme Salon",
		Email: "owner@acme.test",
	}
}

func (s *OutboxSuite) append(createdAt time.Time) *outbox.Notification {
	n := outbox.NewEndingSoon(s.tenant(), 2, createdAt)
	s.Require().NoError(s.store.Append(s.ctx, n))
	return n
}

func (s *OutboxSuite) TestClaim() {
	oldest := s.append(s.now.Add(-2 * time.Hour))
	middle := s.append(s.now.Add(-time.Hour))
	newest := s.append(s.now)

	s.Run("claim honors the limit and returns oldest first", func() {
		got, err := s.store.Claim(s.ctx, 2, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(oldest.ID, got[0].ID)
		s.Equal(middle.ID, got[1].ID)
	})

	s.Run("claimed entries are invisible to a second claimer", func() {
		got, err := s.store.Claim(s.ctx, 10, s.now)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(newest.ID, got[0].ID)

		got, err = s.store.Claim(s.ctx, 10, s.now)
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("lapsed claims are handed out again", func() {
		got, err := s.store.Claim(s.ctx, 10, s.now.Add(outbox.ClaimLease))
		s.Require().NoError(err)
		s.Len(got, 3)
	})

	s.Run("delivered entries drop out", func() {
		s.Require().NoError(s.store.MarkSent(s.ctx, oldest.ID, s.now))
		got, err := s.store.Claim(s.ctx, 10, s.now.Add(2*outbox.ClaimLease))
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(middle.ID, got[0].ID)
	})
}

func (s *OutboxSuite) TestMarkSent() {
	n := s.append(s.now)

	s.Require().NoError(s.store.MarkSent(s.ctx, n.ID, s.now))

	s.Run("double delivery is rejected", func() {
		err := s.store.MarkSent(s.ctx, n.ID, s.now)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown notification returns not found", func() {
		err := s.store.MarkSent(s.ctx, id.NotificationID(uuid.New()), s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *OutboxSuite) TestCountPending() {
	s.append(s.now)
	n := s.append(s.now)

	count, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	s.Require().NoError(s.store.MarkSent(s.ctx, n.ID, s.now))

	count, err = s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *OutboxSuite) TestDeleteSentBefore() {
	old := s.append(s.now.Add(-48 * time.Hour))
	recent := s.append(s.now)
	pending := s.append(s.now.Add(-72 * time.Hour))

	s.Require().NoError(s.store.MarkSent(s.ctx, old.ID, s.now.Add(-47*time.Hour)))
	s.Require().NoError(s.store.MarkSent(s.ctx, recent.ID, s.now))

	deleted, err := s.store.DeleteSentBefore(s.ctx, s.now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	// The old pending entry survives retention: only delivered rows age out.
	got, err := s.store.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(pending.ID, got[0].ID)
}
