package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents the persisted fields of a user this service reads and writes
type User struct {
	UserID         uuid.UUID      `json:"user_id" db:"user_id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	Username       string         `json:"username" db:"username"`
	DisplayName    string         `json:"display_name" db:"display_name"`
	Status         PresenceStatus `json:"status" db:"status"`
	LastSeenAt     *time.Time     `json:"last_seen_at,omitempty" db:"last_seen_at"`
}
