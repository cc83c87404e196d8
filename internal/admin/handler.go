// Package admin exposes the operator API: tenant inspection and a manual
// lifecycle trigger. All routes require a super admin.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	"github.com/Stiven-son/calniq-sub001/internal/lifecycle"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
	"github.com/Stiven-son/calniq-sub001/pkg/httputil"
)

// TenantStore is the tenant lookup surface the admin API depends on.
type TenantStore interface {
	List(ctx context.Context) ([]*models.Tenant, error)
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
}

// LifecycleRunner triggers a lifecycle pass on demand.
type LifecycleRunner interface {
	Run(ctx context.Context, now time.Time) (lifecycle.RunResult, error)
}

// Handler serves the admin routes.
type Handler struct {
	tenants TenantStore
	runner  LifecycleRunner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New constructs the admin handler.
func New(tenants TenantStore, runner LifecycleRunner, opts ...Option) *Handler {
	h := &Handler{
		tenants: tenants,
		runner:  runner,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the admin routes behind the super admin gate.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireSuperAdmin)
		r.Get("/tenants", h.listTenants)
		r.Get("/tenants/{tenantID}", h.getTenant)
		r.Post("/lifecycle/run", h.runLifecycle)
	})
}

// RequireSuperAdmin rejects requests from non-operators.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := guard.UserFromContext(r.Context())
		if user == nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
			return
		}
		if !user.IsSuperAdmin {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "super admin required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tenants"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenant, err := h.tenants.FindByID(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "tenant not found"))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

// runLifecycle triggers a lifecycle pass immediately. If a scheduled run is
// already in flight the request is rejected rather than queued.
func (h *Handler) runLifecycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Run(r.Context(), h.now())
	if err != nil {
		if errors.Is(err, lifecycle.ErrRunInProgress) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a lifecycle run is already in progress"))
			return
		}
		// Partial failure: some tenants errored but the run completed.
		h.logger.ErrorContext(r.Context(), "manual lifecycle run had tenant errors", "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"trials_notified":        res.TrialsNotified,
		"trials_expired":         res.TrialsExpired,
		"subscriptions_notified": res.SubscriptionsNotified,
		"subscriptions_expired":  res.SubscriptionsExpired,
		"tenant_errors":          res.TenantErrors,
	})
}
