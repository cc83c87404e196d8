package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tenant store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, email, subscription_status, trial_ends_at, subscription_ends_at, notification_days_before, last_notified_at, created_at, updated_at`

// Create inserts a new tenant. Email uniqueness is enforced by the schema.
func (s *PostgresStore) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		tenant.Email,
		string(tenant.Status),
		tenant.TrialEndsAt,
		tenant.SubscriptionEndsAt,
		tenant.NotificationDaysBefore,
		tenant.LastNotifiedAt,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant email must be unique: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// FindByID retrieves a tenant by its UUID.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	tenant, err := scanTenant(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant by id: %w", err)
	}
	return tenant, nil
}

// Update updates an existing tenant.
func (s *PostgresStore) Update(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	query := `
		UPDATE tenants
		SET name = $2, email = $3, subscription_status = $4, trial_ends_at = $5,
		    subscription_ends_at = $6, notification_days_before = $7,
		    last_notified_at = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		tenant.Email,
		string(tenant.Status),
		tenant.TrialEndsAt,
		tenant.SubscriptionEndsAt,
		tenant.NotificationDaysBefore,
		tenant.LastNotifiedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// List returns all tenants ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at`
	return s.queryTenants(ctx, query)
}

// ListExpiringTrials returns trial tenants whose trial ends after now.
func (s *PostgresStore) ListExpiringTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + ` FROM tenants
		WHERE subscription_status = 'trial' AND trial_ends_at > $1
		ORDER BY created_at
	`
	return s.queryTenants(ctx, query, now)
}

// ListExpiredTrials returns trial tenants whose trial ended at or before now.
func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + ` FROM tenants
		WHERE subscription_status = 'trial' AND trial_ends_at <= $1
		ORDER BY created_at
	`
	return s.queryTenants(ctx, query, now)
}

// ListExpiringSubscriptions returns active tenants whose subscription ends after now.
// The non-null predicate exempts perpetual plans.
func (s *PostgresStore) ListExpiringSubscriptions(ctx context.Context, now time.Time) ([]*models.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + ` FROM tenants
		WHERE subscription_status = 'active' AND subscription_ends_at IS NOT NULL AND subscription_ends_at > $1
		ORDER BY created_at
	`
	return s.queryTenants(ctx, query, now)
}

// ListExpiredSubscriptions returns active tenants whose subscription ended at or before now.
// The non-null predicate exempts perpetual plans.
func (s *PostgresStore) ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + ` FROM tenants
		WHERE subscription_status = 'active' AND subscription_ends_at IS NOT NULL AND subscription_ends_at <= $1
		ORDER BY created_at
	`
	return s.queryTenants(ctx, query, now)
}

// Expire atomically transitions the tenant to expired if it is still in the
// expected source state, and enqueues note in the same transaction. The
// conditional UPDATE is the claim: under concurrent runs only one caller sees
// rows affected = 1. Because the outbox insert shares the claim's
// transaction, a crash cannot commit the transition and lose the
// notification.
func (s *PostgresStore) Expire(ctx context.Context, tenantID id.TenantID, from models.SubscriptionStatus, now time.Time, note *outbox.Notification) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin expire tenant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := `
		UPDATE tenants
		SET subscription_status = 'expired', updated_at = $3
		WHERE id = $1 AND subscription_status = $2
	`
	res, err := tx.ExecContext(ctx, query, uuid.UUID(tenantID), string(from), now)
	if err != nil {
		return false, fmt.Errorf("expire tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire tenant rows: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	if note != nil {
		if err := outbox.InsertTx(ctx, tx, note); err != nil {
			return false, fmt.Errorf("enqueue expire notification: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit expire tenant: %w", err)
	}
	return true, nil
}

// MarkNotified stamps the daily notification throttle.
func (s *PostgresStore) MarkNotified(ctx context.Context, tenantID id.TenantID, now time.Time) error {
	query := `
		UPDATE tenants
		SET last_notified_at = $2, updated_at = $2
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(tenantID), now)
	if err != nil {
		return fmt.Errorf("mark tenant notified: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark tenant notified rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryTenants(ctx context.Context, query string, args ...any) ([]*models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var tenants []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

type tenantRow interface {
	Scan(dest ...any) error
}

func scanTenant(row tenantRow) (*models.Tenant, error) {
	var tenant models.Tenant
	var tenantID uuid.UUID
	var status string
	var trialEndsAt, subscriptionEndsAt, lastNotifiedAt sql.NullTime
	if err := row.Scan(
		&tenantID,
		&tenant.Name,
		&tenant.Email,
		&status,
		&trialEndsAt,
		&subscriptionEndsAt,
		&tenant.NotificationDaysBefore,
		&lastNotifiedAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tenant.ID = id.TenantID(tenantID)
	tenant.Status = models.SubscriptionStatus(status)
	if trialEndsAt.Valid {
		tenant.TrialEndsAt = &trialEndsAt.Time
	}
	if subscriptionEndsAt.Valid {
		tenant.SubscriptionEndsAt = &subscriptionEndsAt.Time
	}
	if lastNotifiedAt.Valid {
		tenant.LastNotifiedAt = &lastNotifiedAt.Time
	}
	return &tenant, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
