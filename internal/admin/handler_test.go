package admin_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Stiven-son/calniq-sub001/internal/admin"
	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	authmodels "github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/lifecycle"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

type AdminSuite struct {
	suite.Suite
	ctx     context.Context
	tenants *store.InMemoryStore
	router  chi.Router
	now     time.Time
}

func TestAdminSuite(t *testing.T) {
	suite.Run(t, new(AdminSuite))
}

func (s *AdminSuite) SetupTest() {
	s.ctx = context.Background()
	ob := outbox.NewMemory()
	s.tenants = store.NewMemory(store.WithOutbox(ob))
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checker, err := lifecycle.New(s.tenants, ob, lifecycle.WithLogger(logger))
	s.Require().NoError(err)

	handler := admin.New(s.tenants, checker,
		admin.WithLogger(logger),
		admin.WithClock(func() time.Time { return s.now }),
	)
	s.router = chi.NewRouter()
	handler.Register(s.router)
}

func (s *AdminSuite) request(method, path string, user *authmodels.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != nil {
		req = req.WithContext(guard.ContextWithAuth(req.Context(), user, nil))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *AdminSuite) superAdmin() *authmodels.User {
	return &authmodels.User{
		ID:           id.UserID(uuid.New()),
		TenantID:     id.TenantID(uuid.New()),
		Email:        "ops@calniq.test",
		IsSuperAdmin: true,
	}
}

func (s *AdminSuite) seedTenant(status models.SubscriptionStatus, endsAt *time.Time) *models.Tenant {
	tenant := &models.Tenant{
		ID:                     id.TenantID(uuid.New()),
		Name:                   "Acme Salon",
		Email:                  "owner@acme.test",
		Status:                 status,
		NotificationDaysBefore: 3,
		CreatedAt:              s.now,
		UpdatedAt:              s.now,
	}
	if status == models.StatusTrial {
		tenant.TrialEndsAt = endsAt
	}
	s.Require().NoError(s.tenants.Create(s.ctx, tenant))
	return tenant
}

func (s *AdminSuite) TestAccessControl() {
	s.Run("unauthenticated gets 401", func() {
		rec := s.request(http.MethodGet, "/admin/tenants", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("regular user gets 403", func() {
		user := s.superAdmin()
		user.IsSuperAdmin = false
		rec := s.request(http.MethodGet, "/admin/tenants", user)
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("super admin gets through", func() {
		rec := s.request(http.MethodGet, "/admin/tenants", s.superAdmin())
		s.Equal(http.StatusOK, rec.Code)
	})
}

func (s *AdminSuite) TestListAndGetTenant() {
	endsAt := s.now.Add(48 * time.Hour)
	tenant := s.seedTenant(models.StatusTrial, &endsAt)

	s.Run("list", func() {
		rec := s.request(http.MethodGet, "/admin/tenants", s.superAdmin())
		s.Require().Equal(http.StatusOK, rec.Code)

		var body struct {
			Count int `json:"count"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal(1, body.Count)
	})

	s.Run("get by id", func() {
		rec := s.request(http.MethodGet, "/admin/tenants/"+tenant.ID.String(), s.superAdmin())
		s.Require().Equal(http.StatusOK, rec.Code)

		var body models.Tenant
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal(tenant.ID, body.ID)
	})

	s.Run("unknown id gets 404", func() {
		rec := s.request(http.MethodGet, "/admin/tenants/"+uuid.NewString(), s.superAdmin())
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("malformed id gets 400", func() {
		rec := s.request(http.MethodGet, "/admin/tenants/not-a-uuid", s.superAdmin())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *AdminSuite) TestManualLifecycleRun() {
	endsAt := s.now.Add(-time.Hour)
	s.seedTenant(models.StatusTrial, &endsAt)

	rec := s.request(http.MethodPost, "/admin/lifecycle/run", s.superAdmin())
	s.Require().Equal(http.StatusOK, rec.Code)

	var body struct {
		TrialsExpired int `json:"trials_expired"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(1, body.TrialsExpired)
}
