package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// PostgresStore persists the notification outbox in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed outbox store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append adds a pending notification to the outbox table.
func (s *PostgresStore) Append(ctx context.Context, n *Notification) error {
	return insertNotification(ctx, s.db, n)
}

// InsertTx appends a pending notification inside a caller-owned transaction,
// so the enqueue commits or rolls back together with the caller's own writes.
func InsertTx(ctx context.Context, tx *sql.Tx, n *Notification) error {
	return insertNotification(ctx, tx, n)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNotification(ctx context.Context, ex execer, n *Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	query := `
		INSERT INTO notification_outbox (id, tenant_id, kind, recipient, tenant_name, days_left, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := ex.ExecContext(ctx, query,
		uuid.UUID(n.ID),
		uuid.UUID(n.TenantID),
		string(n.Kind),
		n.Recipient,
		n.TenantName,
		n.DaysLeft,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox notification: %w", err)
	}
	return nil
}

// Claim stamps up to limit pending rows with claimed_at and returns them
// oldest first. The stamp makes the rows invisible to other senders until
// the lease lapses; FOR UPDATE SKIP LOCKED keeps concurrent claimers from
// blocking on each other inside the statement.
func (s *PostgresStore) Claim(ctx context.Context, limit int, now time.Time) ([]*Notification, error) {
	if limit <= 0 {
		return nil, nil
	}
	const maxBatch = 1000
	if limit > maxBatch {
		limit = maxBatch
	}
	query := `
		WITH claimed AS (
			UPDATE notification_outbox
			SET claimed_at = $1
			WHERE id IN (
				SELECT id FROM notification_outbox
				WHERE sent_at IS NULL AND (claimed_at IS NULL OR claimed_at <= $2)
				ORDER BY created_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, tenant_id, kind, recipient, tenant_name, days_left, created_at, sent_at
		)
		SELECT id, tenant_id, kind, recipient, tenant_name, days_left, created_at, sent_at
		FROM claimed
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, now, now.Add(-ClaimLease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var notificationID, tenantID uuid.UUID
		var kind string
		var sentAt sql.NullTime
		if err := rows.Scan(&notificationID, &tenantID, &kind, &n.Recipient, &n.TenantName, &n.DaysLeft, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan outbox notification: %w", err)
		}
		n.ID = id.NotificationID(notificationID)
		n.TenantID = id.TenantID(tenantID)
		n.Kind = Kind(kind)
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox notifications: %w", err)
	}
	return notifications, nil
}

// MarkSent marks a notification as delivered.
func (s *PostgresStore) MarkSent(ctx context.Context, notificationID id.NotificationID, sentAt time.Time) error {
	query := `
		UPDATE notification_outbox
		SET sent_at = $2
		WHERE id = $1 AND sent_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(notificationID), sentAt)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification sent rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("notification not found or already sent: %s", notificationID)
	}
	return nil
}

// CountPending returns the number of undelivered notifications.
func (s *PostgresStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_outbox WHERE sent_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending notifications: %w", err)
	}
	return count, nil
}

// DeleteSentBefore removes old delivered notifications.
func (s *PostgresStore) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_outbox WHERE sent_at IS NOT NULL AND sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete sent notifications: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sent notifications rows: %w", err)
	}
	return rows, nil
}
