package lifecycle_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/Stiven-son/calniq-sub001/internal/lifecycle"
	"github.com/Stiven-son/calniq-sub001/internal/lifecycle/mocks"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/platform/kafka"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

type CheckerSuite struct {
	suite.Suite
	ctx     context.Context
	tenants *store.InMemoryStore
	outbox  *outbox.InMemoryStore
	checker *lifecycle.Checker
	now     time.Time
}

func TestCheckerSuite(t *testing.T) {
	suite.Run(t, new(CheckerSuite))
}

func (s *CheckerSuite) SetupTest() {
	s.ctx = context.Background()
	s.outbox = outbox.NewMemory()
	s.tenants = store.NewMemory(store.WithOutbox(s.outbox))
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	checker, err := lifecycle.New(s.tenants, s.outbox,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.checker = checker
}

// seedTenant inserts a tenant directly into the store with the given billing
// state. endsAt populates trial_ends_at for trials and subscription_ends_at
// for active tenants.
func (s *CheckerSuite) seedTenant(status models.SubscriptionStatus, endsAt *time.Time) *models.Tenant {
	tenant := &models.Tenant{
		ID:                     id.TenantID(uuid.New()),
		Name:                   "Acme Salon",
		Email:                  "owner@acme.test",
		Status:                 status,
		NotificationDaysBefore: 3,
		CreatedAt:              s.now.Add(-30 * 24 * time.Hour),
		UpdatedAt:              s.now.Add(-30 * 24 * time.Hour),
	}
	switch status {
	case models.StatusTrial:
		tenant.TrialEndsAt = endsAt
	case models.StatusActive:
		tenant.SubscriptionEndsAt = endsAt
	}
	s.Require().NoError(s.tenants.Create(s.ctx, tenant))
	return tenant
}

func (s *CheckerSuite) pendingNotifications() []*outbox.Notification {
	pending, err := s.outbox.Pending(s.ctx)
	s.Require().NoError(err)
	return pending
}

func ptrTime(t time.Time) *time.Time { return &t }

func (s *CheckerSuite) TestNotifyExpiringTrial() {
	s.Run("tenant inside the warning window gets one notification per run", func() {
		tenant := s.seedTenant(models.StatusTrial, ptrTime(s.now.Add(2*24*time.Hour)))

		res, err := s.checker.Run(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, res.TrialsNotified)

		pending := s.pendingNotifications()
		s.Require().Len(pending, 1)
		s.Equal(outbox.KindEndingSoon, pending[0].Kind)
		s.Equal(tenant.ID, pending[0].TenantID)
		s.Equal("owner@acme.test", pending[0].Recipient)
		s.Equal(2, pending[0].DaysLeft)

		// Second run the same day is throttled.
		res, err = s.checker.Run(s.ctx, s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(0, res.TrialsNotified)
		s.Len(s.pendingNotifications(), 1)
	})

	s.Run("tenant outside the warning window is left alone", func() {
		s.SetupTest()
		s.seedTenant(models.StatusTrial, ptrTime(s.now.Add(10*24*time.Hour)))

		res, err := s.checker.Run(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(0, res.TrialsNotified)
		s.Empty(s.pendingNotifications())
	})

	s.Run("notification stamp resets at the calendar day boundary", func() {
		s.SetupTest()
		tenant := s.seedTenant(models.StatusTrial, ptrTime(s.now.Add(2*24*time.Hour)))

		// Notified late yesterday evening.
		lastNight := time.Date(2025, 6, 14, 23, 59, 59, 0, time.UTC)
		s.Require().NoError(s.tenants.MarkNotified(s.ctx, tenant.ID, lastNight))

		// Just after midnight counts as a new day.
		justAfterMidnight := time.Date(2025, 6, 15, 0, 0, 1, 0, time.UTC)
		res, err := s.checker.Run(s.ctx, justAfterMidnight)
		s.Require().NoError(err)
		s.Equal(1, res.TrialsNotified)

		// Noon the same day is still throttled.
		res, err = s.checker.Run(s.ctx, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
		s.Require().NoError(err)
		s.Equal(0, res.TrialsNotified)
		s.Len(s.pendingNotifications(), 1)
	})
}

func (s *CheckerSuite) TestExpireTrial() {
	s.Run("past-due trial transitions to expired with one notification", func() {
		tenant := s.seedTenant(models.StatusTrial, ptrTime(s.now.Add(-time.Hour)))

		res, err := s.checker.Run(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, res.TrialsExpired)
		s.Equal(0, res.TrialsNotified)

		stored, err := s.tenants.FindByID(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, stored.Status)

		pending := s.pendingNotifications()
		s.Require().Len(pending, 1)
		s.Equal(outbox.KindExpired, pending[0].Kind)

		// Already-expired tenants drop out of the selection, so repeated
		// runs do nothing.
		res, err = s.checker.Run(s.ctx, s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(0, res.TrialsExpired)
		s.Len(s.pendingNotifications(), 1)
	})

	s.Run("trial ending exactly now is past due", func() {
		s.SetupTest()
		s.seedTenant(models.StatusTrial, ptrTime(s.now))

		res, err := s.checker.Run(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, res.TrialsExpired)
	})
}

func (s *CheckerSuite) TestExpireSubscription() {
	tenant := s.seedTenant(models.StatusActive, ptrTime(s.now.Add(-24*time.Hour)))

	res, err := s.checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.SubscriptionsExpired)

	stored, err := s.tenants.FindByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
}

func (s *CheckerSuite) TestPerpetualPlanExempt() {
	// Active tenant with no end date never expires and never gets warnings.
	tenant := s.seedTenant(models.StatusActive, nil)

	res, err := s.checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(0, res.SubscriptionsNotified)
	s.Equal(0, res.SubscriptionsExpired)
	s.Empty(s.pendingNotifications())

	stored, err := s.tenants.FindByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, stored.Status)
}

func (s *CheckerSuite) TestOverlappingRunsSkipped() {
	ctrl := gomock.NewController(s.T())
	tenants := mocks.NewMockTenantStore(ctrl)
	ob := mocks.NewMockOutbox(ctrl)

	checker, err := lifecycle.New(tenants, ob,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	entered := make(chan struct{})
	release := make(chan struct{})

	tenants.EXPECT().ListExpiringTrials(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time) ([]*models.Tenant, error) {
			close(entered)
			<-release
			return nil, nil
		})
	tenants.EXPECT().ListExpiredTrials(gomock.Any(), gomock.Any()).Return(nil, nil)
	tenants.EXPECT().ListExpiringSubscriptions(gomock.Any(), gomock.Any()).Return(nil, nil)
	tenants.EXPECT().ListExpiredSubscriptions(gomock.Any(), gomock.Any()).Return(nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := checker.Run(s.ctx, s.now)
		done <- err
	}()

	<-entered
	_, err = checker.Run(s.ctx, s.now)
	s.ErrorIs(err, lifecycle.ErrRunInProgress)

	close(release)
	s.NoError(<-done)
}

func (s *CheckerSuite) TestClaimLostToConcurrentRun() {
	ctrl := gomock.NewController(s.T())
	tenants := mocks.NewMockTenantStore(ctrl)
	ob := mocks.NewMockOutbox(ctrl)

	checker, err := lifecycle.New(tenants, ob,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	tenant := &models.Tenant{
		ID:          id.TenantID(uuid.New()),
		Name:        "Acme Salon",
		Email:       "owner@acme.test",
		Status:      models.StatusTrial,
		TrialEndsAt: ptrTime(s.now.Add(-time.Hour)),
	}

	tenants.EXPECT().ListExpiringTrials(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredTrials(gomock.Any(), s.now).Return([]*models.Tenant{tenant}, nil)
	tenants.EXPECT().ListExpiringSubscriptions(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredSubscriptions(gomock.Any(), s.now).Return(nil, nil)

	// Another run claimed the transition first: no notification goes out.
	tenants.EXPECT().Expire(gomock.Any(), tenant.ID, models.StatusTrial, s.now, gomock.Any()).Return(false, nil)

	res, err := checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(0, res.TrialsExpired)
}

func (s *CheckerSuite) TestTenantErrorsIsolated() {
	ctrl := gomock.NewController(s.T())
	tenants := mocks.NewMockTenantStore(ctrl)
	ob := mocks.NewMockOutbox(ctrl)

	checker, err := lifecycle.New(tenants, ob,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	broken := &models.Tenant{
		ID:          id.TenantID(uuid.New()),
		Name:        "Broken",
		Email:       "broken@acme.test",
		Status:      models.StatusTrial,
		TrialEndsAt: ptrTime(s.now.Add(-time.Hour)),
	}
	healthy := &models.Tenant{
		ID:          id.TenantID(uuid.New()),
		Name:        "Healthy",
		Email:       "healthy@acme.test",
		Status:      models.StatusTrial,
		TrialEndsAt: ptrTime(s.now.Add(-time.Hour)),
	}

	tenants.EXPECT().ListExpiringTrials(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredTrials(gomock.Any(), s.now).Return([]*models.Tenant{broken, healthy}, nil)
	tenants.EXPECT().ListExpiringSubscriptions(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredSubscriptions(gomock.Any(), s.now).Return(nil, nil)

	tenants.EXPECT().Expire(gomock.Any(), broken.ID, models.StatusTrial, s.now, gomock.Any()).
		Return(false, fmt.Errorf("connection reset"))
	tenants.EXPECT().Expire(gomock.Any(), healthy.ID, models.StatusTrial, s.now, gomock.Any()).Return(true, nil)

	res, err := checker.Run(s.ctx, s.now)
	s.Require().Error(err)
	s.Contains(err.Error(), "connection reset")
	s.Equal(1, res.TrialsExpired)
	s.Equal(1, res.TenantErrors)
}

func (s *CheckerSuite) TestExpiredNoticeTravelsWithClaim() {
	ctrl := gomock.NewController(s.T())
	tenants := mocks.NewMockTenantStore(ctrl)
	// No Append expectation: the expired notice must ride inside the claim,
	// never through a separate outbox write that a crash could skip.
	ob := mocks.NewMockOutbox(ctrl)

	checker, err := lifecycle.New(tenants, ob,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	tenant := &models.Tenant{
		ID:          id.TenantID(uuid.New()),
		Name:        "Acme Salon",
		Email:       "owner@acme.test",
		Status:      models.StatusTrial,
		TrialEndsAt: ptrTime(s.now.Add(-time.Hour)),
	}

	tenants.EXPECT().ListExpiringTrials(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredTrials(gomock.Any(), s.now).Return([]*models.Tenant{tenant}, nil)
	tenants.EXPECT().ListExpiringSubscriptions(gomock.Any(), s.now).Return(nil, nil)
	tenants.EXPECT().ListExpiredSubscriptions(gomock.Any(), s.now).Return(nil, nil)

	tenants.EXPECT().Expire(gomock.Any(), tenant.ID, models.StatusTrial, s.now, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.TenantID, _ models.SubscriptionStatus, _ time.Time, note *outbox.Notification) (bool, error) {
			s.Require().NotNil(note)
			s.Equal(outbox.KindExpired, note.Kind)
			s.Equal(tenant.ID, note.TenantID)
			s.Equal("owner@acme.test", note.Recipient)
			return true, nil
		})

	res, err := checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.TrialsExpired)
}

func (s *CheckerSuite) TestLifecycleEventPublished() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockEventPublisher(ctrl)

	tenant := s.seedTenant(models.StatusActive, ptrTime(s.now.Add(-time.Hour)))

	checker, err := lifecycle.New(s.tenants, s.outbox,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		lifecycle.WithEventPublisher(publisher, "calniq.tenant.lifecycle"),
	)
	s.Require().NoError(err)

	publisher.EXPECT().Produce(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg *kafka.Message) error {
			s.Equal("calniq.tenant.lifecycle", msg.Topic)
			s.Equal(tenant.ID.String(), string(msg.Key))
			s.Equal("tenant_expired", msg.Headers["event_type"])

			var event struct {
				TenantID   string `json:"tenant_id"`
				FromStatus string `json:"from_status"`
				ToStatus   string `json:"to_status"`
			}
			s.Require().NoError(json.Unmarshal(msg.Value, &event))
			s.Equal(tenant.ID.String(), event.TenantID)
			s.Equal("active", event.FromStatus)
			s.Equal("expired", event.ToStatus)
			return nil
		})

	res, err := checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.SubscriptionsExpired)
}

func (s *CheckerSuite) TestEventPublishFailureDoesNotFailRun() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockEventPublisher(ctrl)

	s.seedTenant(models.StatusTrial, ptrTime(s.now.Add(-time.Hour)))

	checker, err := lifecycle.New(s.tenants, s.outbox,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		lifecycle.WithEventPublisher(publisher, ""),
	)
	s.Require().NoError(err)

	publisher.EXPECT().Produce(gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("broker unavailable"))

	res, err := checker.Run(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.TrialsExpired)
	s.Len(s.pendingNotifications(), 1)
}
