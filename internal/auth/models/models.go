// Package models holds the auth aggregates: user accounts and their
// browser/API sessions.
package models

import (
	"time"

	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
)

// User is a login-capable account scoped to a tenant. CurrentSessionID holds
// the authoritative session token: at most one session per user is recognized,
// the one that most recently claimed this field. Writes are last-write-wins.
type User struct {
	ID               id.UserID   `json:"id"`
	TenantID         id.TenantID `json:"tenant_id"`
	Email            string      `json:"email"`
	PasswordHash     string      `json:"-"`
	CurrentSessionID *string     `json:"-"`
	IsSuperAdmin     bool        `json:"is_super_admin"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewUser creates a user account.
func NewUser(userID id.UserID, tenantID id.TenantID, email, passwordHash string, now time.Time) (*User, error) {
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user email cannot be empty")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user password hash cannot be empty")
	}
	return &User{
		ID:           userID,
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	clone := *u
	if u.CurrentSessionID != nil {
		v := *u.CurrentSessionID
		clone.CurrentSessionID = &v
	}
	return &clone
}

// Session is the server-side state behind a session cookie. Token starts
// empty; the session guard fills it in on the first authenticated request
// (the claim step) and compares it against the user record afterwards.
type Session struct {
	ID        id.SessionID `json:"id"`
	UserID    id.UserID    `json:"user_id"`
	Token     string       `json:"token"`
	CSRFToken string       `json:"csrf_token"`
	Device    string       `json:"device,omitempty"`
	IP        string       `json:"ip,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// NewSession creates a session for a freshly authenticated user.
func NewSession(sessionID id.SessionID, userID id.UserID, csrfToken string, ttl time.Duration, now time.Time) *Session {
	return &Session{
		ID:        sessionID,
		UserID:    userID,
		CSRFToken: csrfToken,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Clone returns a copy.
func (s *Session) Clone() *Session {
	clone := *s
	return &clone
}
