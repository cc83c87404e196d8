package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	authmodels "github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/middleware"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

func TestRequireActiveSubscription(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tenants := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := middleware.RequireActiveSubscription(tenants, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	seed := func(status models.SubscriptionStatus) *models.Tenant {
		tenant := &models.Tenant{
			ID:        id.TenantID(uuid.New()),
			Name:      "Acme Salon",
			Email:     uuid.NewString() + "@acme.test",
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, tenants.Create(ctx, tenant))
		return tenant
	}

	serve := func(user *authmodels.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/tenant", nil)
		if user != nil {
			req = req.WithContext(guard.ContextWithAuth(req.Context(), user, nil))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("active tenant proceeds", func(t *testing.T) {
		tenant := seed(models.StatusActive)
		rec := serve(&authmodels.User{ID: id.UserID(uuid.New()), TenantID: tenant.ID})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("trial tenant proceeds", func(t *testing.T) {
		tenant := seed(models.StatusTrial)
		rec := serve(&authmodels.User{ID: id.UserID(uuid.New()), TenantID: tenant.ID})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("expired tenant gets 402 with a stable error code", func(t *testing.T) {
		tenant := seed(models.StatusExpired)
		rec := serve(&authmodels.User{ID: id.UserID(uuid.New()), TenantID: tenant.ID})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "subscription_expired", body["error"])
	})

	t.Run("super admin bypasses the gate", func(t *testing.T) {
		tenant := seed(models.StatusExpired)
		rec := serve(&authmodels.User{ID: id.UserID(uuid.New()), TenantID: tenant.ID, IsSuperAdmin: true})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unauthenticated gets 401", func(t *testing.T) {
		rec := serve(nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
