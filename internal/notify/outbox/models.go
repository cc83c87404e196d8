// Package outbox implements the transactional outbox for tenant
// notifications: the lifecycle checker persists a pending entry next to the
// state change, and the sender worker delivers it later. A crash between the
// two steps leaves a pending row to retry instead of a lost or duplicated
// email.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// Kind distinguishes the two notification messages the checker produces.
type Kind string

const (
	KindEndingSoon Kind = "ending_soon"
	KindExpired    Kind = "expired"
)

// ClaimLease is how long a claimed batch stays owned by one sender. A sender
// that dies mid-delivery releases its rows implicitly once the lease lapses.
const ClaimLease = 5 * time.Minute

// Notification is a pending or delivered tenant notification.
type Notification struct {
	ID         id.NotificationID
	TenantID   id.TenantID
	Kind       Kind
	Recipient  string
	TenantName string
	DaysLeft   int // only meaningful for ending_soon
	CreatedAt  time.Time
	ClaimedAt  *time.Time // set while a sender owns the entry
	SentAt     *time.Time // NULL = pending, non-NULL = delivered
}

// IsPending returns true if this notification has not been delivered yet.
func (n *Notification) IsPending() bool {
	return n.SentAt == nil
}

// NewEndingSoon creates a pending "ending soon" notification for the tenant.
func NewEndingSoon(tenant *models.Tenant, daysLeft int, now time.Time) *Notification {
	return &Notification{
		ID:         id.NotificationID(uuid.New()),
		TenantID:   tenant.ID,
		Kind:       KindEndingSoon,
		Recipient:  tenant.Email,
		TenantName: tenant.Name,
		DaysLeft:   daysLeft,
		CreatedAt:  now,
	}
}

// NewExpired creates a pending "expired" notification for the tenant.
func NewExpired(tenant *models.Tenant, now time.Time) *Notification {
	return &Notification{
		ID:         id.NotificationID(uuid.New()),
		TenantID:   tenant.ID,
		Kind:       KindExpired,
		Recipient:  tenant.Email,
		TenantName: tenant.Name,
		CreatedAt:  now,
	}
}

// Store is the persistence contract for the notification outbox.
// Claim hands out up to limit pending entries oldest first and stamps each
// with claimed_at, so two senders polling the same table never deliver the
// same entry; a claim lapses after ClaimLease if the sender never marks it.
type Store interface {
	Append(ctx context.Context, n *Notification) error
	Claim(ctx context.Context, limit int, now time.Time) ([]*Notification, error)
	MarkSent(ctx context.Context, notificationID id.NotificationID, sentAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}
