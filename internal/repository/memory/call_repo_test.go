package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
)

func newRingingCall(channelID, initiator uuid.UUID, invitees ...uuid.UUID) *domain.Call {
	now := time.Now()
	call := &domain.Call{
		CallID:      uuid.New(),
		ChannelID:   channelID,
		InitiatorID: initiator,
		CallType:    domain.CallTypeAudio,
		Status:      domain.CallStatusRinging,
		CreatedAt:   now,
		Participants: []*domain.CallParticipant{
			{UserID: initiator, Status: domain.ParticipantJoined, JoinedAt: &now},
		},
	}
	for _, id := range invitees {
		call.Participants = append(call.Participants, &domain.CallParticipant{CallID: call.CallID, UserID: id, Status: domain.ParticipantInvited})
	}
	return call
}

func TestCallRepository_OneOpenCallPerChannel(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	channelID, initiator := uuid.New(), uuid.New()

	first := newRingingCall(channelID, initiator)
	require.NoError(t, repo.Create(ctx, first))
	assert.ErrorIs(t, repo.Create(ctx, newRingingCall(channelID, initiator)), domain.ErrDuplicateActiveCall)

	outcome, err := repo.EndCall(ctx, first.CallID, []domain.CallStatus{domain.CallStatusRinging}, time.Now())
	require.NoError(t, err)
	assert.True(t, outcome.Ended)

	require.NoError(t, repo.Create(ctx, newRingingCall(channelID, initiator)))
}

func TestCallRepository_JoinLeaveLifecycle(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	initiator, invitee := uuid.New(), uuid.New()
	call := newRingingCall(uuid.New(), initiator, invitee)
	require.NoError(t, repo.Create(ctx, call))

	joined, err := repo.JoinParticipant(ctx, call.CallID, invitee, time.Now())
	require.NoError(t, err)
	assert.True(t, joined.Activated)
	assert.Equal(t, domain.CallStatusActive, joined.Call.Status)
	require.NotNil(t, joined.Call.StartedAt)

	again, err := repo.JoinParticipant(ctx, call.CallID, invitee, time.Now())
	require.NoError(t, err)
	assert.True(t, again.AlreadyJoined)
	assert.False(t, again.Activated)

	left, err := repo.LeaveParticipant(ctx, call.CallID, invitee, time.Now())
	require.NoError(t, err)
	assert.True(t, left.Changed)
	assert.False(t, left.CallEnded)

	_, err = repo.JoinParticipant(ctx, call.CallID, invitee, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidCallState)

	last, err := repo.LeaveParticipant(ctx, call.CallID, initiator, time.Now())
	require.NoError(t, err)
	assert.True(t, last.CallEnded)
	assert.Equal(t, domain.CallStatusEnded, last.Call.Status)

	_, err = repo.JoinParticipant(ctx, call.CallID, invitee, time.Now())
	assert.ErrorIs(t, err, domain.ErrCallNotActive)
}

func TestCallRepository_RejectEndsEmptyCall(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	initiator, invitee := uuid.New(), uuid.New()
	call := newRingingCall(uuid.New(), initiator, invitee)
	require.NoError(t, repo.Create(ctx, call))

	outcome, err := repo.RejectParticipant(ctx, call.CallID, invitee, true, time.Now())
	require.NoError(t, err)
	assert.True(t, outcome.CallEnded)
	assert.Equal(t, domain.ParticipantRejected, outcome.Call.Participant(invitee).Status)
	assert.Equal(t, domain.ParticipantLeft, outcome.Call.Participant(initiator).Status)

	_, err = repo.RejectParticipant(ctx, call.CallID, invitee, true, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidCallState)
}

func TestCallRepository_ScreenShare(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	initiator := uuid.New()
	call := newRingingCall(uuid.New(), initiator)
	require.NoError(t, repo.Create(ctx, call))

	started := time.Now()
	ok, err := repo.SetScreenShare(ctx, call.CallID, domain.ScreenShare{Enabled: true, SharedBy: initiator, StartedAt: &started})
	require.NoError(t, err)
	assert.True(t, ok)

	stopped, err := repo.StopScreenShare(ctx, call.CallID, uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, stopped)

	stopped, err = repo.StopScreenShare(ctx, call.CallID, initiator, time.Now())
	require.NoError(t, err)
	assert.True(t, stopped)

	got, err := repo.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	share := got.ScreenShareState()
	require.NotNil(t, share)
	assert.False(t, share.Enabled)
	assert.NotNil(t, share.EndedAt)
}

func TestCallRepository_GetUserCallsPaginates(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	user := uuid.New()

	base := time.Now()
	for i := 0; i < 3; i++ {
		call := newRingingCall(uuid.New(), user)
		call.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, call))
	}

	page, err := repo.GetUserCalls(ctx, user, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := repo.GetUserCalls(ctx, user, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, err := repo.GetUserCalls(ctx, user, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
