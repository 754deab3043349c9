package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_ScreenShareState(t *testing.T) {
	call := &Call{Metadata: map[string]any{}}
	assert.Nil(t, call.ScreenShareState())

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sharer := uuid.New()
	call.Metadata[ScreenShareKey] = ScreenShare{Enabled: true, SharedBy: sharer, StartedAt: &started}.ToMap()

	share := call.ScreenShareState()
	require.NotNil(t, share)
	assert.True(t, share.Enabled)
	assert.Equal(t, sharer, share.SharedBy)
	require.NotNil(t, share.StartedAt)
	assert.True(t, started.Equal(*share.StartedAt))
	assert.Nil(t, share.EndedAt)
}

func TestCall_Clone(t *testing.T) {
	joined := time.Now()
	call := &Call{
		CallID:   uuid.New(),
		Status:   CallStatusActive,
		Metadata: map[string]any{ScreenShareKey: map[string]any{"enabled": true}},
		Participants: []*CallParticipant{
			{UserID: uuid.New(), Status: ParticipantJoined, JoinedAt: &joined},
			{UserID: uuid.New(), Status: ParticipantInvited},
		},
	}

	cp := call.Clone()
	cp.Participants[0].Status = ParticipantLeft
	cp.Metadata[ScreenShareKey].(map[string]any)["enabled"] = false

	assert.Equal(t, ParticipantJoined, call.Participants[0].Status)
	assert.Equal(t, true, call.Metadata[ScreenShareKey].(map[string]any)["enabled"])
	assert.Equal(t, 1, call.JoinedCount())
	assert.Equal(t, 0, cp.JoinedCount())
}

func TestCall_Duration(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	assert.Zero(t, (&Call{EndedAt: &end}).Duration())
	assert.Equal(t, 90*time.Second, (&Call{StartedAt: &start, EndedAt: &end}).Duration())
}
