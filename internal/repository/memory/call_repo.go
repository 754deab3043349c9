// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
)

// CallRepository keeps calls in memory. Every transition runs under one lock,
// which gives the same atomicity as the SQL transactions.
type CallRepository struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*domain.Call
}

// NewCallRepository creates an empty in-memory call repository
func NewCallRepository() *CallRepository {
	return &CallRepository{calls: make(map[uuid.UUID]*domain.Call)}
}

// Create stores the call and its participants. A channel may hold one open call.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.Status.IsOpen() && r.openByChannelLocked(call.ChannelID) != nil {
		return domain.ErrDuplicateActiveCall
	}

	stored := call.Clone()
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	r.calls[call.CallID] = stored
	return nil
}

// GetByID returns a copy of the call
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

// GetOpenByChannel returns the channel's ringing or active call, or nil
func (r *CallRepository) GetOpenByChannel(ctx context.Context, channelID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call := r.openByChannelLocked(channelID); call != nil {
		return call.Clone(), nil
	}
	return nil, nil
}

// GetUserCalls returns the calls a user took part in, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if call.Participant(userID) != nil {
			calls = append(calls, call)
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset >= len(calls) {
		return []*domain.Call{}, nil
	}
	end := min(offset+limit, len(calls))

	out := make([]*domain.Call, 0, end-offset)
	for _, call := range calls[offset:end] {
		out = append(out, call.Clone())
	}
	return out, nil
}

// JoinParticipant moves the user to joined and activates a ringing call
func (r *CallRepository) JoinParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.JoinOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	if !call.Status.IsOpen() {
		return nil, domain.ErrCallNotActive
	}

	outcome := &domain.JoinOutcome{}
	switch p := call.Participant(userID); {
	case p == nil:
		joinedAt := at
		call.Participants = append(call.Participants, &domain.CallParticipant{
			CallID:   callID,
			UserID:   userID,
			Status:   domain.ParticipantJoined,
			JoinedAt: &joinedAt,
		})
	case p.Status == domain.ParticipantJoined:
		outcome.AlreadyJoined = true
	case p.Status == domain.ParticipantInvited:
		joinedAt := at
		p.Status = domain.ParticipantJoined
		p.JoinedAt = &joinedAt
	default:
		return nil, domain.ErrInvalidCallState
	}

	if !outcome.AlreadyJoined && call.Status == domain.CallStatusRinging {
		startedAt := at
		call.Status = domain.CallStatusActive
		call.StartedAt = &startedAt
		outcome.Activated = true
	}

	outcome.Call = call.Clone()
	return outcome, nil
}

// LeaveParticipant marks a joined user as left and ends the call once empty
func (r *CallRepository) LeaveParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.LeaveOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	p := call.Participant(userID)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}

	outcome := &domain.LeaveOutcome{}
	if p.Status == domain.ParticipantJoined {
		leftAt := at
		p.Status = domain.ParticipantLeft
		p.LeftAt = &leftAt
		outcome.Changed = true

		if call.Status.IsOpen() && call.JoinedCount() == 0 {
			outcome.CallEnded = closeLocked(call, at)
		}
	}

	outcome.Call = call.Clone()
	return outcome, nil
}

// RejectParticipant marks an invited or joined user as rejected on a ringing call
func (r *CallRepository) RejectParticipant(ctx context.Context, callID, userID uuid.UUID, endCall bool, at time.Time) (*domain.RejectOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	if call.Status != domain.CallStatusRinging {
		return nil, domain.ErrInvalidCallState
	}
	p := call.Participant(userID)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}
	if p.Status != domain.ParticipantInvited && p.Status != domain.ParticipantJoined {
		return nil, domain.ErrInvalidCallState
	}

	if p.Status == domain.ParticipantJoined {
		leftAt := at
		p.LeftAt = &leftAt
	}
	p.Status = domain.ParticipantRejected

	outcome := &domain.RejectOutcome{}
	if endCall || call.JoinedCount() == 0 {
		outcome.CallEnded = closeLocked(call, at)
	}

	outcome.Call = call.Clone()
	return outcome, nil
}

// EndCall ends the call if its status is one of from
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, at time.Time) (*domain.EndOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}

	outcome := &domain.EndOutcome{}
	if slices.Contains(from, call.Status) {
		outcome.Ended = closeLocked(call, at)
	}

	outcome.Call = call.Clone()
	return outcome, nil
}

// SetScreenShare stores the screen share state unless the call has ended
func (r *CallRepository) SetScreenShare(ctx context.Context, callID uuid.UUID, share domain.ScreenShare) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return false, domain.ErrCallNotFound
	}
	if !call.Status.IsOpen() {
		return false, nil
	}

	if call.Metadata == nil {
		call.Metadata = map[string]any{}
	}
	call.Metadata[domain.ScreenShareKey] = share.ToMap()
	return true, nil
}

// StopScreenShare disables sharing only when sharerID is the active sharer
func (r *CallRepository) StopScreenShare(ctx context.Context, callID, sharerID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return false, domain.ErrCallNotFound
	}

	share := call.ScreenShareState()
	if share == nil || !share.Enabled || share.SharedBy != sharerID {
		return false, nil
	}

	endedAt := at
	share.Enabled = false
	share.EndedAt = &endedAt
	call.Metadata[domain.ScreenShareKey] = share.ToMap()
	return true, nil
}

func (r *CallRepository) openByChannelLocked(channelID uuid.UUID) *domain.Call {
	for _, call := range r.calls {
		if call.ChannelID == channelID && call.Status.IsOpen() {
			return call
		}
	}
	return nil
}

// closeLocked ends an open call and releases joined participants
func closeLocked(call *domain.Call, at time.Time) bool {
	if !call.Status.IsOpen() || call.EndedAt != nil {
		return false
	}

	endedAt := at
	call.Status = domain.CallStatusEnded
	call.EndedAt = &endedAt
	for _, p := range call.Participants {
		if p.Status == domain.ParticipantJoined {
			leftAt := at
			p.Status = domain.ParticipantLeft
			p.LeftAt = &leftAt
		}
	}
	return true
}
