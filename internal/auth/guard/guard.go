// Package guard enforces at most one live session per user. Every
// authenticated request carries a session-scoped token that is compared
// against the token stored on the user record; the session holding the most
// recently claimed token is the only one allowed to proceed.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/auth/guard/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/auth/session"
	"github.com/Stiven-son/calniq-sub001/internal/auth/token"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
	"github.com/Stiven-son/calniq-sub001/pkg/httputil"
)

// SessionCookie is the name of the session ID cookie.
const SessionCookie = "calniq_session"

type userKey struct{}
type sessionKey struct{}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey{}).(*models.User)
	return user
}

// SessionFromContext returns the current session, or nil.
func SessionFromContext(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey{}).(*models.Session)
	return sess
}

// ContextWithAuth attaches the user and session to the context. Exposed for
// handler tests.
func ContextWithAuth(ctx context.Context, user *models.User, sess *models.Session) context.Context {
	ctx = context.WithValue(ctx, userKey{}, user)
	return context.WithValue(ctx, sessionKey{}, sess)
}

// UserStore is the user persistence surface the guard depends on.
type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	SetCurrentSession(ctx context.Context, userID id.UserID, token string, now time.Time) error
}

// Guard is the request-pipeline filter implementing single-session
// enforcement.
type Guard struct {
	users     UserStore
	sessions  session.Store
	loginPath string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithLoginPath overrides the redirect target for terminated sessions.
func WithLoginPath(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.loginPath = path
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New constructs the session guard.
func New(users UserStore, sessions session.Store, opts ...Option) *Guard {
	g := &Guard{
		users:     users,
		sessions:  sessions,
		loginPath: "/login",
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Authenticate resolves the session cookie into a user and session on the
// request context. Requests without a valid session pass through
// unauthenticated; access control happens downstream.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		sessionID, err := id.ParseSessionID(cookie.Value)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		sess, err := g.sessions.Get(ctx, sessionID)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				g.logger.ErrorContext(ctx, "failed to load session", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		if sess.IsExpired(g.now()) {
			if err := g.sessions.Delete(ctx, sess.ID); err != nil {
				g.logger.WarnContext(ctx, "failed to delete expired session", "session_id", sess.ID, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		user, err := g.users.FindByID(ctx, sess.UserID)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				g.logger.ErrorContext(ctx, "failed to load session user", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAuth(ctx, user, sess)))
	})
}

// Enforce applies the single-session rule to authenticated requests:
//
//   - No token on the session yet: claim. A fresh token is generated and
//     written to both the session and the user record, making this session
//     the authoritative one.
//   - Session token matches the user's stored token: proceed.
//   - Mismatch: a later login claimed the token. The session is destroyed, a
//     fresh anti-forgery token is issued, and the client is sent back to the
//     login page.
//
// The claim write is last-write-wins: two near-simultaneous logins may both
// claim, and whichever write lands last wins. The loser is terminated on its
// next request, not immediately.
func (g *Guard) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := UserFromContext(ctx)
		sess := SessionFromContext(ctx)
		if user == nil || sess == nil {
			next.ServeHTTP(w, r)
			return
		}

		if sess.Token == "" {
			if err := g.claim(ctx, user, sess); err != nil {
				g.logger.ErrorContext(ctx, "session claim failed", "session_id", sess.ID, "error", err)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "session claim failed"))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if user.CurrentSessionID != nil && *user.CurrentSessionID == sess.Token {
			if g.metrics != nil {
				g.metrics.Matches.Inc()
			}
			next.ServeHTTP(w, r)
			return
		}

		g.deny(w, r, user, sess)
	})
}

// claim establishes this session as the user's single live session.
func (g *Guard) claim(ctx context.Context, user *models.User, sess *models.Session) error {
	sessionToken, err := token.NewSessionToken()
	if err != nil {
		return err
	}
	sess.Token = sessionToken
	if err := g.sessions.Save(ctx, sess); err != nil {
		return err
	}
	if err := g.users.SetCurrentSession(ctx, user.ID, sessionToken, g.now()); err != nil {
		return err
	}
	user.CurrentSessionID = &sessionToken

	if g.metrics != nil {
		g.metrics.Claims.Inc()
	}
	g.logger.InfoContext(ctx, "session claimed",
		"user_id", user.ID,
		"session_id", sess.ID,
	)
	return nil
}

// deny terminates a superseded session: destroy it, rotate the anti-forgery
// token, and send the client back to login.
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, user *models.User, sess *models.Session) {
	ctx := r.Context()

	if err := g.sessions.Delete(ctx, sess.ID); err != nil {
		g.logger.ErrorContext(ctx, "failed to destroy superseded session",
			"session_id", sess.ID,
			"error", err,
		)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if csrf, err := token.NewCSRFToken(); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     "calniq_csrf",
			Value:    csrf,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
	}

	if g.metrics != nil {
		g.metrics.Takeovers.Inc()
	}
	g.logger.InfoContext(ctx, "session superseded by a later login",
		"user_id", user.ID,
		"session_id", sess.ID,
	)

	if wantsJSON(r) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeSessionSuperseded, "this session was signed out by a newer login"))
		return
	}
	http.Redirect(w, r, g.loginPath, http.StatusFound)
}

// wantsJSON reports whether the client expects an API-style error instead of
// a browser redirect.
func wantsJSON(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}
