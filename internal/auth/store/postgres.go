package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, tenant_id, email, password_hash, current_session_id, is_super_admin, created_at, updated_at`

// Create inserts a new user. Email uniqueness is enforced by the schema.
func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(user.ID),
		uuid.UUID(user.TenantID),
		user.Email,
		user.PasswordHash,
		user.CurrentSessionID,
		user.IsSuperAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user email must be unique: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByID retrieves a user by its UUID.
func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

// FindByEmail retrieves a user by email.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

// SetCurrentSession overwrites the user's authoritative session token.
// The unconditional UPDATE makes concurrent claims last-write-wins: whichever
// login lands last owns the single live session.
func (s *PostgresStore) SetCurrentSession(ctx context.Context, userID id.UserID, token string, now time.Time) error {
	query := `
		UPDATE users
		SET current_session_id = NULLIF($2, ''), updated_at = $3
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(userID), token, now)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set current session rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type userRow interface {
	Scan(dest ...any) error
}

func scanUser(row userRow) (*models.User, error) {
	var user models.User
	var userID, tenantID uuid.UUID
	var currentSession sql.NullString
	if err := row.Scan(
		&userID,
		&tenantID,
		&user.Email,
		&user.PasswordHash,
		&currentSession,
		&user.IsSuperAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.ID = id.UserID(userID)
	user.TenantID = id.TenantID(tenantID)
	if currentSession.Valid {
		user.CurrentSessionID = &currentSession.String
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
