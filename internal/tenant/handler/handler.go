// Package handler exposes the tenant-facing API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
	"github.com/Stiven-son/calniq-sub001/pkg/httputil"
)

// TenantReader is the tenant lookup the handler depends on.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
}

// Handler serves the tenant self-service routes.
type Handler struct {
	tenants TenantReader
	logger  *slog.Logger
}

// New constructs the tenant handler.
func New(tenants TenantReader, logger *slog.Logger) *Handler {
	return &Handler{tenants: tenants, logger: logger}
}

// Register mounts the tenant routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/tenant", h.getOwnTenant)
}

// getOwnTenant returns the caller's tenant with its subscription state, so
// the frontend can render trial countdowns and renewal prompts.
func (h *Handler) getOwnTenant(w http.ResponseWriter, r *http.Request) {
	user := guard.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
		return
	}
	tenant, err := h.tenants.FindByID(r.Context(), user.TenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "tenant not found"))
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load tenant", "tenant_id", user.TenantID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}
