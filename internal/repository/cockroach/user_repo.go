package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamchat-backend/internal/domain"
)

// UserRepository handles user presence fields in CockroachDB
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `user_id, organization_id, username, display_name, status, last_seen_at`

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_id = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// UpdatePresence persists status and last_seen_at
func (r *UserRepository) UpdatePresence(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, lastSeenAt time.Time) error {
	query := `
		UPDATE users
		SET status = $2, last_seen_at = $3
		WHERE user_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, string(status), lastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// ListStale returns users not offline whose last activity is before the cutoff
func (r *UserRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE status != 'offline' AND last_seen_at < $1
		ORDER BY last_seen_at
	`

	return r.queryUsers(ctx, query, before)
}

// MarkOfflineIfStale forces a user offline only if they are still stale.
// It reports whether the row changed.
func (r *UserRepository) MarkOfflineIfStale(ctx context.Context, userID uuid.UUID, before time.Time) (bool, error) {
	query := `
		UPDATE users
		SET status = 'offline'
		WHERE user_id = $1 AND status != 'offline' AND last_seen_at < $2
	`

	tag, err := r.pool.Exec(ctx, query, userID, before)
	if err != nil {
		return false, fmt.Errorf("failed to mark user offline: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListByOrganization returns every user of an organization
func (r *UserRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1
		ORDER BY username
	`

	return r.queryUsers(ctx, query, organizationID)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*domain.User, error) {
	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var status string
	err := row.Scan(
		&user.UserID,
		&user.OrganizationID,
		&user.Username,
		&user.DisplayName,
		&status,
		&user.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	user.Status = domain.PresenceStatus(status)
	return user, nil
}
