package domain

import (
	"github.com/google/uuid"
)

// ChannelType determines membership and call-invite rules
type ChannelType string

const (
	ChannelTypePublic  ChannelType = "public"
	ChannelTypePrivate ChannelType = "private"
	ChannelTypeDirect  ChannelType = "direct"
)

// MemberRole is a user's role inside a channel
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// Channel is a conversation space calls and typing indicators are scoped to
type Channel struct {
	ChannelID      uuid.UUID   `json:"channel_id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Name           string      `json:"name"`
	Type           ChannelType `json:"type"`
}

// IsDirect reports whether the channel is a two-party direct channel
func (c *Channel) IsDirect() bool {
	return c.Type == ChannelTypeDirect
}

// ChannelMember links a user to a channel
type ChannelMember struct {
	ChannelID uuid.UUID  `json:"channel_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Role      MemberRole `json:"role"`
}
