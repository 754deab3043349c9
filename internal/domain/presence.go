package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceDND     PresenceStatus = "dnd"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known presence status
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// PresenceThresholds are the idle limits used by DeriveStatus
type PresenceThresholds struct {
	Online time.Duration
	Away   time.Duration
}

// DefaultPresenceThresholds are 5 minutes online and 10 minutes away
var DefaultPresenceThresholds = PresenceThresholds{
	Online: 5 * time.Minute,
	Away:   10 * time.Minute,
}

// DeriveStatus computes the displayed status from the persisted status and last activity.
// dnd and offline are returned unchanged. Elapsed time is floored to whole minutes
// before comparing against the thresholds.
func DeriveStatus(status PresenceStatus, lastSeenAt *time.Time, now time.Time, th PresenceThresholds) PresenceStatus {
	if status == PresenceDND || status == PresenceOffline {
		return status
	}
	if lastSeenAt == nil {
		return PresenceOffline
	}

	idle := now.Sub(*lastSeenAt).Truncate(time.Minute)
	switch {
	case idle > th.Away:
		return PresenceOffline
	case idle > th.Online:
		return PresenceAway
	default:
		return PresenceOnline
	}
}

// UserPresence is the point-in-time presence view of one user
type UserPresence struct {
	UserID      uuid.UUID      `json:"user_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Status      PresenceStatus `json:"status"`
	LastSeenAt  *time.Time     `json:"last_seen_at,omitempty"`
	Connected   bool           `json:"connected"`
}

// TypingUser is a user currently typing in a channel
type TypingUser struct {
	UserID    uuid.UUID `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}
