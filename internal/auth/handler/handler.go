// Package handler exposes the login/logout HTTP endpoints.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	"github.com/Stiven-son/calniq-sub001/internal/auth/service"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
	"github.com/Stiven-son/calniq-sub001/pkg/httputil"
)

// Handler serves authentication endpoints.
type Handler struct {
	svc    *service.Service
	secure bool
	logger *slog.Logger
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

// WithSecureCookies marks session cookies Secure. Enable everywhere TLS
// terminates in front of the service.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secure = secure
	}
}

// New constructs the auth handler.
func New(svc *service.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the auth routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	CSRFToken   string `json:"csrf_token"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.svc.Login(r.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IP:        r.RemoteAddr,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     guard.SessionCookie,
		Value:    result.Session.ID.String(),
		Path:     "/",
		Expires:  result.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		UserID:      result.User.ID.String(),
		TenantID:    result.User.TenantID.String(),
		CSRFToken:   result.Session.CSRFToken,
		AccessToken: result.AccessToken,
		ExpiresAt:   result.Session.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.svc.Logout(r.Context(), sess.ID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     guard.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := guard.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}
