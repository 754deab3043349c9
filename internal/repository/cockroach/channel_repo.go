package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamchat-backend/internal/domain"
)

// ChannelRepository reads channels and their membership
type ChannelRepository struct {
	pool *pgxpool.Pool
}

// NewChannelRepository creates a new ChannelRepository
func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

// GetByID retrieves a channel by ID
func (r *ChannelRepository) GetByID(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	query := `
		SELECT channel_id, organization_id, name, type
		FROM channels
		WHERE channel_id = $1
	`

	channel := &domain.Channel{}
	var channelType string
	err := r.pool.QueryRow(ctx, query, channelID).Scan(
		&channel.ChannelID,
		&channel.OrganizationID,
		&channel.Name,
		&channelType,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	channel.Type = domain.ChannelType(channelType)

	return channel, nil
}

// ListMemberIDs returns the user IDs of a channel's members
func (r *ChannelRepository) ListMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM channel_members
		WHERE channel_id = $1
		ORDER BY joined_at, user_id
	`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel members: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel members: %w", err)
	}

	return ids, nil
}

// ListMembers returns the users who are members of a channel
func (r *ChannelRepository) ListMembers(ctx context.Context, channelID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT u.user_id, u.organization_id, u.username, u.display_name, u.status, u.last_seen_at
		FROM channel_members cm
		JOIN users u ON u.user_id = cm.user_id
		WHERE cm.channel_id = $1
		ORDER BY u.username
	`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel members: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// IsMember checks if a user belongs to a channel
func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM channel_members
			WHERE channel_id = $1 AND user_id = $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, channelID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}

// IsAdmin checks if a user holds the admin role in a channel
func (r *ChannelRepository) IsAdmin(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM channel_members
			WHERE channel_id = $1 AND user_id = $2 AND role = 'admin'
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, channelID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check channel role: %w", err)
	}

	return exists, nil
}
