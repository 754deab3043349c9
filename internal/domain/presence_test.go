package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name     string
		status   PresenceStatus
		lastSeen *time.Time
		want     PresenceStatus
	}{
		{"dnd is kept", PresenceDND, ago(time.Hour), PresenceDND},
		{"offline is kept", PresenceOffline, ago(0), PresenceOffline},
		{"never seen", PresenceOnline, nil, PresenceOffline},
		{"fresh", PresenceOnline, ago(30 * time.Second), PresenceOnline},
		{"five minutes and change is still online", PresenceOnline, ago(5*time.Minute + 59*time.Second), PresenceOnline},
		{"six minutes", PresenceOnline, ago(6 * time.Minute), PresenceAway},
		{"ten minutes is still away", PresenceAway, ago(10*time.Minute + 30*time.Second), PresenceAway},
		{"eleven minutes", PresenceOnline, ago(11 * time.Minute), PresenceOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.status, tt.lastSeen, now, DefaultPresenceThresholds))
		})
	}
}

func TestPresenceStatus_Valid(t *testing.T) {
	assert.True(t, PresenceDND.Valid())
	assert.False(t, PresenceStatus("busy").Valid())
}
