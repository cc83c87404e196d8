// Package middleware gates tenant-scoped routes on subscription state.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
	"github.com/Stiven-son/calniq-sub001/pkg/httputil"
)

// TenantReader is the tenant lookup the middleware depends on.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
}

// RequireActiveSubscription blocks requests for tenants whose trial or
// subscription has expired. Super admins bypass the gate so support can reach
// expired accounts.
func RequireActiveSubscription(tenants TenantReader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := guard.UserFromContext(r.Context())
			if user == nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
				return
			}
			if user.IsSuperAdmin {
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := tenants.FindByID(r.Context(), user.TenantID)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to load tenant for subscription gate",
					"tenant_id", user.TenantID,
					"error", err,
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check subscription"))
				return
			}
			if tenant.IsExpired() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeSubscriptionExpired, "subscription has expired"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
