// Package service implements account registration and the login/logout flow.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"golang.org/x/crypto/bcrypt"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/auth/session"
	"github.com/Stiven-son/calniq-sub001/internal/auth/token"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
)

// UserStore is the user persistence surface the service depends on.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SetCurrentSession(ctx context.Context, userID id.UserID, token string, now time.Time) error
}

// Service handles registration, login and logout.
type Service struct {
	users      UserStore
	sessions   session.Store
	jwt        *token.JWTManager
	sessionTTL time.Duration
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJWTManager enables access token minting for API clients.
func WithJWTManager(m *token.JWTManager) Option {
	return func(s *Service) {
		s.jwt = m
	}
}

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs the auth service.
func New(users UserStore, sessions session.Store, opts ...Option) *Service {
	s := &Service{
		users:      users,
		sessions:   sessions,
		sessionTTL: 24 * time.Hour,
		validate:   validator.New(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RegisterInput is the payload for creating a user account.
type RegisterInput struct {
	TenantID id.TenantID `validate:"required"`
	Email    string      `validate:"required,email"`
	Password string      `validate:"required,min=8,max=72"`
}

// Register creates a user account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid registration input")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := s.now()
	user, err := models.NewUser(id.UserID(uuid.New()), input.TenantID, input.Email, string(hash), now)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "email already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID,
		"tenant_id", user.TenantID,
	)
	return user, nil
}

// LoginInput is the payload for authenticating a user.
type LoginInput struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required"`
	UserAgent string
	IP        string
}

// LoginResult carries the new session and an optional API access token.
type LoginResult struct {
	User        *models.User
	Session     *models.Session
	AccessToken string
}

// Login verifies credentials and creates a session. The new session claims
// the user's authoritative token immediately, so any earlier session is
// superseded on its next request. Concurrent logins are last-write-wins.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid login input")
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Same error as a bad password so callers cannot probe for accounts.
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	csrf, err := token.NewCSRFToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate csrf token")
	}
	sessionToken, err := token.NewSessionToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate session token")
	}

	now := s.now()
	sess := models.NewSession(id.SessionID(uuid.New()), user.ID, csrf, s.sessionTTL, now)
	sess.Token = sessionToken
	sess.Device = deviceLabel(input.UserAgent)
	sess.IP = input.IP

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	if err := s.users.SetCurrentSession(ctx, user.ID, sessionToken, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim session")
	}
	user.CurrentSessionID = &sessionToken

	result := &LoginResult{User: user, Session: sess}
	if s.jwt != nil {
		accessToken, err := s.jwt.Mint(user.ID, user.TenantID, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint access token")
		}
		result.AccessToken = accessToken
	}

	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID,
		"session_id", sess.ID,
		"device", sess.Device,
	)
	return result, nil
}

// Logout destroys the session and releases the user's authoritative token if
// this session still holds it. A session already superseded by a later login
// must not clear the newer claim.
func (s *Service) Logout(ctx context.Context, sessionID id.SessionID) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err == nil && user.CurrentSessionID != nil && *user.CurrentSessionID == sess.Token {
		if err := s.users.SetCurrentSession(ctx, user.ID, "", s.now()); err != nil {
			s.logger.WarnContext(ctx, "failed to release session claim",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}

	s.logger.InfoContext(ctx, "user logged out", "session_id", sessionID)
	return nil
}

// deviceLabel derives a short human-readable device string from a User-Agent
// header, e.g. "Chrome 126 on Linux".
func deviceLabel(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return rawUA
	}
	label := name
	if version != "" {
		label += " " + version
	}
	if os := ua.OS(); os != "" {
		label += " on " + os
	}
	return label
}
