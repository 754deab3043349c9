package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScreenShareKey is the metadata key holding screen-share state
const ScreenShareKey = "screen_share"

// ScreenShare is the screen-share sub-state stored in Call.Metadata
type ScreenShare struct {
	Enabled   bool       `json:"enabled"`
	SharedBy  uuid.UUID  `json:"shared_by"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ToMap renders the state in the shape persisted inside call metadata
func (s ScreenShare) ToMap() map[string]any {
	m := map[string]any{
		"enabled":   s.Enabled,
		"shared_by": s.SharedBy.String(),
	}
	if s.StartedAt != nil {
		m["started_at"] = s.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.EndedAt != nil {
		m["ended_at"] = s.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// ScreenShareState reads the screen-share sub-object from call metadata.
// It returns nil if no screen share was ever started.
func (c *Call) ScreenShareState() *ScreenShare {
	raw, ok := c.Metadata[ScreenShareKey].(map[string]any)
	if !ok {
		return nil
	}

	s := &ScreenShare{}
	s.Enabled, _ = raw["enabled"].(bool)
	if v, ok := raw["shared_by"].(string); ok {
		s.SharedBy, _ = uuid.Parse(v)
	}
	s.StartedAt = parseMetaTime(raw["started_at"])
	s.EndedAt = parseMetaTime(raw["ended_at"])
	return s
}

func parseMetaTime(v any) *time.Time {
	str, ok := v.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return nil
	}
	return &t
}
