package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
)

// ChannelRepository keeps channels and memberships in memory. Member user
// records are resolved through the user repository.
type ChannelRepository struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*domain.Channel
	members  map[uuid.UUID][]domain.ChannelMember
	users    *UserRepository
}

// NewChannelRepository creates an empty in-memory channel repository
func NewChannelRepository(users *UserRepository) *ChannelRepository {
	return &ChannelRepository{
		channels: make(map[uuid.UUID]*domain.Channel),
		members:  make(map[uuid.UUID][]domain.ChannelMember),
		users:    users,
	}
}

// Add inserts or replaces a channel
func (r *ChannelRepository) Add(channel *domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *channel
	r.channels[channel.ChannelID] = &cp
}

// AddMember adds a user to a channel with the given role
func (r *ChannelRepository) AddMember(channelID, userID uuid.UUID, role domain.MemberRole) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.members[channelID] {
		if m.UserID == userID {
			r.members[channelID][i].Role = role
			return
		}
	}
	r.members[channelID] = append(r.members[channelID], domain.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
	})
}

// GetByID returns a copy of the channel
func (r *ChannelRepository) GetByID(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, ok := r.channels[channelID]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	cp := *channel
	return &cp, nil
}

// ListMemberIDs returns member user IDs in join order
func (r *ChannelRepository) ListMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.members[channelID]))
	for _, m := range r.members[channelID] {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

// ListMembers returns the users who are members of a channel
func (r *ChannelRepository) ListMembers(ctx context.Context, channelID uuid.UUID) ([]*domain.User, error) {
	ids, err := r.ListMemberIDs(ctx, channelID)
	if err != nil {
		return nil, err
	}

	users := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		user, err := r.users.GetByID(ctx, id)
		if err != nil {
			continue
		}
		users = append(users, user)
	}
	sortByUsername(users)
	return users, nil
}

// IsMember checks if a user belongs to a channel
func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	_, ok := r.member(channelID, userID)
	return ok, nil
}

// IsAdmin checks if a user holds the admin role in a channel
func (r *ChannelRepository) IsAdmin(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	m, ok := r.member(channelID, userID)
	return ok && m.Role == domain.MemberRoleAdmin, nil
}

func (r *ChannelRepository) member(channelID, userID uuid.UUID) (domain.ChannelMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members[channelID] {
		if m.UserID == userID {
			return m, true
		}
	}
	return domain.ChannelMember{}, false
}
