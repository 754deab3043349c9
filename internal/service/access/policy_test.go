package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/repository/memory"
)

type brokenChannels struct{}

func (brokenChannels) GetByID(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	return nil, errors.New("connection refused")
}

func (brokenChannels) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return false, errors.New("connection refused")
}

func TestCanAccessChannel(t *testing.T) {
	users := memory.NewUserRepository()
	channels := memory.NewChannelRepository(users)
	policy := NewPolicy(channels, users)

	org, otherOrg := uuid.New(), uuid.New()
	member := uuid.New()
	colleague := uuid.New()
	stranger := uuid.New()
	users.Add(&domain.User{UserID: member, OrganizationID: org, Username: "member"})
	users.Add(&domain.User{UserID: colleague, OrganizationID: org, Username: "colleague"})
	users.Add(&domain.User{UserID: stranger, OrganizationID: otherOrg, Username: "stranger"})

	public := uuid.New()
	private := uuid.New()
	direct := uuid.New()
	channels.Add(&domain.Channel{ChannelID: public, OrganizationID: org, Type: domain.ChannelTypePublic})
	channels.Add(&domain.Channel{ChannelID: private, OrganizationID: org, Type: domain.ChannelTypePrivate})
	channels.Add(&domain.Channel{ChannelID: direct, OrganizationID: org, Type: domain.ChannelTypeDirect})
	for _, id := range []uuid.UUID{public, private, direct} {
		channels.AddMember(id, member, domain.MemberRoleMember)
	}

	tests := []struct {
		name    string
		user    uuid.UUID
		channel uuid.UUID
		want    bool
	}{
		{"public member", member, public, true},
		{"public same organization", colleague, public, true},
		{"public other organization", stranger, public, false},
		{"public unknown user", uuid.New(), public, false},
		{"private member", member, private, true},
		{"private non-member", colleague, private, false},
		{"direct member", member, direct, true},
		{"direct non-member", colleague, direct, false},
		{"unknown channel", member, uuid.New(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := policy.CanAccessChannel(context.Background(), tt.user, tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCanAccessChannel_StoreFailure(t *testing.T) {
	policy := NewPolicy(brokenChannels{}, memory.NewUserRepository())

	ok, err := policy.CanAccessChannel(context.Background(), uuid.New(), uuid.New())

	assert.Error(t, err)
	assert.False(t, ok)
}
