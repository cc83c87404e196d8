package models

import (
	"time"

	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
)

// SubscriptionStatus is the billing state of a tenant.
type SubscriptionStatus string

const (
	StatusTrial   SubscriptionStatus = "trial"
	StatusActive  SubscriptionStatus = "active"
	StatusExpired SubscriptionStatus = "expired"
)

// Valid reports whether the status is one of the known states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusExpired:
		return true
	}
	return false
}

// Tenant is a business account on the platform. The lifecycle checker owns
// transitions into expired and the notification stamp; everything else is
// written by signup and billing collaborators.
type Tenant struct {
	ID                     id.TenantID        `json:"id"`
	Name                   string             `json:"name"`
	Email                  string             `json:"email"`
	Status                 SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt     *time.Time         `json:"subscription_ends_at,omitempty"`
	NotificationDaysBefore int                `json:"notification_days_before"`
	LastNotifiedAt         *time.Time         `json:"last_notified_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// NewTenant creates a tenant in trial state.
func NewTenant(tenantID id.TenantID, name, email string, trialEndsAt time.Time, now time.Time) (*Tenant, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant email cannot be empty")
	}
	return &Tenant{
		ID:                     tenantID,
		Name:                   name,
		Email:                  email,
		Status:                 StatusTrial,
		TrialEndsAt:            &trialEndsAt,
		NotificationDaysBefore: 3,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

func (t *Tenant) IsTrial() bool   { return t.Status == StatusTrial }
func (t *Tenant) IsActive() bool  { return t.Status == StatusActive }
func (t *Tenant) IsExpired() bool { return t.Status == StatusExpired }

// EndsAt returns the end date relevant to the current status: trial_ends_at
// for trials, subscription_ends_at for active subscriptions. Nil for expired
// tenants and for perpetual plans (active with no end date).
func (t *Tenant) EndsAt() *time.Time {
	switch t.Status {
	case StatusTrial:
		return t.TrialEndsAt
	case StatusActive:
		return t.SubscriptionEndsAt
	}
	return nil
}

// DaysLeft returns the number of whole days until the relevant end date.
// Returns 0 when there is no end date or it has already passed.
func (t *Tenant) DaysLeft(now time.Time) int {
	endsAt := t.EndsAt()
	if endsAt == nil || !endsAt.After(now) {
		return 0
	}
	return int(endsAt.Sub(now) / (24 * time.Hour))
}

// NotifiedToday reports whether a threshold notification already went out
// during the current calendar day. The day boundary follows now's location.
func (t *Tenant) NotifiedToday(now time.Time) bool {
	if t.LastNotifiedAt == nil {
		return false
	}
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return !t.LastNotifiedAt.Before(startOfDay)
}

// ShouldNotify implements the threshold notification rule: remaining time is
// within the configured window and no notification has gone out today.
func (t *Tenant) ShouldNotify(now time.Time) bool {
	endsAt := t.EndsAt()
	if endsAt == nil || !endsAt.After(now) {
		return false
	}
	if t.DaysLeft(now) > t.NotificationDaysBefore {
		return false
	}
	return !t.NotifiedToday(now)
}

// MarkNotified stamps the daily notification throttle.
func (t *Tenant) MarkNotified(now time.Time) {
	stamp := now
	t.LastNotifiedAt = &stamp
	t.UpdatedAt = now
}

// ExpireTrial transitions trial -> expired.
// Returns an error if the tenant is not in trial.
func (t *Tenant) ExpireTrial(now time.Time) error {
	if t.Status != StatusTrial {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is not in trial")
	}
	t.Status = StatusExpired
	t.UpdatedAt = now
	return nil
}

// ExpireSubscription transitions active -> expired.
// Returns an error if the tenant is not active.
func (t *Tenant) ExpireSubscription(now time.Time) error {
	if t.Status != StatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant subscription is not active")
	}
	t.Status = StatusExpired
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers cannot mutate
// shared state behind the store's back.
func (t *Tenant) Clone() *Tenant {
	clone := *t
	if t.TrialEndsAt != nil {
		v := *t.TrialEndsAt
		clone.TrialEndsAt = &v
	}
	if t.SubscriptionEndsAt != nil {
		v := *t.SubscriptionEndsAt
		clone.SubscriptionEndsAt = &v
	}
	if t.LastNotifiedAt != nil {
		v := *t.LastNotifiedAt
		clone.LastNotifiedAt = &v
	}
	return &clone
}
