// Package access decides whether a user may act inside a channel.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
)

// ChannelReader is the channel lookup the policy needs
type ChannelReader interface {
	GetByID(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error)
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// UserReader resolves a user's organization
type UserReader interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Policy grants access to public channels for anyone in the same
// organization and to private or direct channels for members only.
type Policy struct {
	channels ChannelReader
	users    UserReader
}

// NewPolicy creates a channel access policy
func NewPolicy(channels ChannelReader, users UserReader) *Policy {
	return &Policy{channels: channels, users: users}
}

// CanAccessChannel reports whether userID may see and act in channelID.
// Unknown users or channels are denied rather than reported as errors.
func (p *Policy) CanAccessChannel(ctx context.Context, userID, channelID uuid.UUID) (bool, error) {
	channel, err := p.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load channel: %w", err)
	}

	if channel.Type == domain.ChannelTypePublic {
		user, err := p.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to load user: %w", err)
		}
		return user.OrganizationID == channel.OrganizationID, nil
	}

	return p.channels.IsMember(ctx, channelID, userID)
}
