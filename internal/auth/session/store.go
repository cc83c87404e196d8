// Package session persists server-side sessions behind the session cookie.
package session

import (
	"context"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// Store is the persistence contract for sessions. Save overwrites the whole
// record; the guard uses it to persist a claimed token.
type Store interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Save(ctx context.Context, sess *models.Session) error
	Delete(ctx context.Context, sessionID id.SessionID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
