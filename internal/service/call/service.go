package call

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

// CallRepository persists calls and applies state transitions atomically.
// Every transition method re-reads the current state inside its own
// transaction and only writes if the expected pre-state still holds.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetOpenByChannel(ctx context.Context, channelID uuid.UUID) (*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	JoinParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.JoinOutcome, error)
	LeaveParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.LeaveOutcome, error)
	RejectParticipant(ctx context.Context, callID, userID uuid.UUID, endCall bool, at time.Time) (*domain.RejectOutcome, error)
	EndCall(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, at time.Time) (*domain.EndOutcome, error)
	SetScreenShare(ctx context.Context, callID uuid.UUID, share domain.ScreenShare) (bool, error)
	StopScreenShare(ctx context.Context, callID, sharerID uuid.UUID, at time.Time) (bool, error)
}

// ChannelRepository reads channel membership
type ChannelRepository interface {
	GetByID(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error)
	ListMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error)
	IsAdmin(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// AccessPolicy decides whether a user may act in a channel
type AccessPolicy interface {
	CanAccessChannel(ctx context.Context, userID, channelID uuid.UUID) (bool, error)
}

// TimeoutScheduler delivers a one-shot callback for a token after a delay
type TimeoutScheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, token string) error
	Cancel(ctx context.Context, token string) error
}

// EventPublisher delivers domain events downstream
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Config holds call timing and limits
type Config struct {
	DirectRingTimeout time.Duration
	GroupRingTimeout  time.Duration
	MaxInvitees       int
}

// DefaultConfig rings direct calls for 30s and group calls for 60s
func DefaultConfig() Config {
	return Config{
		DirectRingTimeout: 30 * time.Second,
		GroupRingTimeout:  60 * time.Second,
		MaxInvitees:       50,
	}
}

// Service manages the call session lifecycle
type Service struct {
	calls     CallRepository
	channels  ChannelRepository
	policy    AccessPolicy
	scheduler TimeoutScheduler
	publisher EventPublisher
	cfg       Config
	now       func() time.Time
}

// NewService creates a new call service
func NewService(
	calls CallRepository,
	channels ChannelRepository,
	policy AccessPolicy,
	scheduler TimeoutScheduler,
	publisher EventPublisher,
	cfg Config,
) *Service {
	return &Service{
		calls:     calls,
		channels:  channels,
		policy:    policy,
		scheduler: scheduler,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	ChannelID      uuid.UUID
	InitiatorID    uuid.UUID
	CallType       domain.CallType
	ParticipantIDs []uuid.UUID // optional explicit invitees
}

// InitiateCall creates a ringing call, invites members and arms the ring timeout
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*domain.Call, error) {
	if !input.CallType.Valid() {
		return nil, errors.ValidationError("call_type must be audio or video")
	}
	if s.cfg.MaxInvitees > 0 && len(input.ParticipantIDs) > s.cfg.MaxInvitees {
		return nil, errors.ValidationError(fmt.Sprintf("at most %d participants can be invited", s.cfg.MaxInvitees))
	}

	channel, err := s.channels.GetByID(ctx, input.ChannelID)
	if err != nil {
		return nil, mapChannelError(err)
	}

	if err := s.requireAccess(ctx, input.InitiatorID, channel.ChannelID, "initiate"); err != nil {
		return nil, err
	}

	if channel.IsDirect() && len(input.ParticipantIDs) > 1 {
		s.rejected("initiate", errors.ErrCodeInvalidCallState)
		return nil, errors.InvalidCallStateError("A direct channel call can invite only one participant")
	}

	open, err := s.calls.GetOpenByChannel(ctx, channel.ChannelID)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to check open call: %w", err))
	}
	if open != nil {
		s.rejected("initiate", errors.ErrCodeDuplicateActiveCall)
		return nil, errors.DuplicateActiveCallError()
	}

	memberIDs, err := s.channels.ListMemberIDs(ctx, channel.ChannelID)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to list channel members: %w", err))
	}
	invitees := selectInvitees(channel, input.InitiatorID, memberIDs, input.ParticipantIDs)

	roomToken, err := newRoomToken()
	if err != nil {
		return nil, errors.InternalError("failed to generate room token")
	}

	now := s.now()
	call := &domain.Call{
		CallID:      uuid.New(),
		ChannelID:   channel.ChannelID,
		InitiatorID: input.InitiatorID,
		CallType:    input.CallType,
		Status:      domain.CallStatusRinging,
		RoomToken:   roomToken,
		Metadata:    map[string]any{},
		CreatedAt:   now,
	}
	call.Participants = append(call.Participants, &domain.CallParticipant{
		CallID:   call.CallID,
		UserID:   input.InitiatorID,
		Status:   domain.ParticipantJoined,
		JoinedAt: &now,
	})
	for _, id := range invitees {
		call.Participants = append(call.Participants, &domain.CallParticipant{
			CallID: call.CallID,
			UserID: id,
			Status: domain.ParticipantInvited,
		})
	}

	if err := s.calls.Create(ctx, call); err != nil {
		if stderrors.Is(err, domain.ErrDuplicateActiveCall) {
			s.rejected("initiate", errors.ErrCodeDuplicateActiveCall)
			return nil, errors.DuplicateActiveCallError()
		}
		return nil, errors.DatabaseError(fmt.Errorf("failed to create call: %w", err))
	}

	timeout := s.cfg.GroupRingTimeout
	if channel.IsDirect() {
		timeout = s.cfg.DirectRingTimeout
	}
	if err := s.scheduler.ScheduleAfter(ctx, timeout, TimeoutToken(call.CallID)); err != nil {
		// Without a timeout the call could ring forever; close it before failing
		if _, endErr := s.calls.EndCall(ctx, call.CallID, []domain.CallStatus{domain.CallStatusRinging}, s.now()); endErr != nil {
			logger.Error("Failed to close call after scheduler failure",
				zap.String("call_id", call.CallID.String()),
				zap.Error(endErr))
		}
		return nil, errors.SchedulerError(fmt.Errorf("failed to schedule ring timeout: %w", err))
	}
	metrics.SchedulerTasksTotal.WithLabelValues("scheduled").Inc()
	metrics.CallInitiatedTotal.WithLabelValues(string(call.CallType), string(channel.Type)).Inc()
	metrics.CallsOpen.Inc()

	logger.Info("Call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("channel_id", channel.ChannelID.String()),
		zap.String("initiator_id", input.InitiatorID.String()),
		zap.Int("invited", len(invitees)),
		zap.Duration("ring_timeout", timeout))

	s.publish(ctx, domain.NewCallInitiated(call, now))

	return call, nil
}

// JoinCall moves the user to joined and activates a ringing call
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if err := s.requireAccess(ctx, userID, call.ChannelID, "join"); err != nil {
		return nil, err
	}

	if !call.Status.IsOpen() {
		s.rejected("join", errors.ErrCodeCallNotActive)
		return nil, errors.CallNotActiveError()
	}

	now := s.now()
	outcome, err := s.calls.JoinParticipant(ctx, callID, userID, now)
	if err != nil {
		return nil, s.mapTransitionError("join", err)
	}

	if outcome.AlreadyJoined {
		logger.Debug("Join ignored, participant already joined",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		return outcome.Call, nil
	}

	if outcome.Activated {
		s.cancelTimeout(ctx, callID)
		logger.Info("Call activated",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
	}

	s.publish(ctx, domain.NewParticipantJoined(outcome.Call, userID, now))

	return outcome.Call, nil
}

// LeaveCall marks the user as left and ends the call once nobody remains joined
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	now := s.now()
	outcome, err := s.calls.LeaveParticipant(ctx, callID, userID, now)
	if err != nil {
		return nil, s.mapTransitionError("leave", err)
	}

	if !outcome.Changed {
		logger.Debug("Leave ignored, participant not joined",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		return outcome.Call, nil
	}

	s.publish(ctx, domain.NewParticipantLeft(outcome.Call, userID, now))

	if outcome.CallEnded {
		s.cancelTimeout(ctx, callID)
		s.recordEnded("auto_ended", outcome.Call)
		logger.Info("Call auto-ended, no participants remain",
			zap.String("call_id", callID.String()))
		s.publish(ctx, domain.NewCallAutoEnded(outcome.Call, now))
	}

	return outcome.Call, nil
}

// RejectCall declines a ringing call. On a direct channel this also ends it.
func (s *Service) RejectCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.Status != domain.CallStatusRinging {
		s.rejected("reject", errors.ErrCodeInvalidCallState)
		return nil, errors.InvalidCallStateError("You can only reject calls that are still ringing")
	}

	channel, err := s.channels.GetByID(ctx, call.ChannelID)
	if err != nil {
		return nil, mapChannelError(err)
	}

	now := s.now()
	outcome, err := s.calls.RejectParticipant(ctx, callID, userID, channel.IsDirect(), now)
	if err != nil {
		return nil, s.mapTransitionError("reject", err)
	}

	s.publish(ctx, domain.NewParticipantRejected(outcome.Call, userID, now))

	switch {
	case outcome.CallEnded && channel.IsDirect():
		s.cancelTimeout(ctx, callID)
		s.recordEnded("rejected", outcome.Call)
		logger.Info("Direct call ended by reject",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		s.publish(ctx, domain.NewCallEnded(outcome.Call, userID, now))
	case outcome.CallEnded:
		s.cancelTimeout(ctx, callID)
		s.recordEnded("auto_ended", outcome.Call)
		s.publish(ctx, domain.NewCallAutoEnded(outcome.Call, now))
	}

	return outcome.Call, nil
}

// EndCall terminates the call. Only the initiator or a channel admin may end it.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.InitiatorID != userID {
		isAdmin, err := s.channels.IsAdmin(ctx, call.ChannelID, userID)
		if err != nil {
			return nil, errors.DatabaseError(fmt.Errorf("failed to check channel role: %w", err))
		}
		if !isAdmin {
			s.rejected("end", errors.ErrCodeNotAuthorized)
			return nil, errors.NotAuthorizedError("Only the call initiator or a channel admin can end the call")
		}
	}

	if !call.Status.IsOpen() {
		s.rejected("end", errors.ErrCodeCallNotActive)
		return nil, errors.CallNotActiveError()
	}

	now := s.now()
	outcome, err := s.calls.EndCall(ctx, callID, []domain.CallStatus{domain.CallStatusRinging, domain.CallStatusActive}, now)
	if err != nil {
		return nil, s.mapTransitionError("end", err)
	}
	if !outcome.Ended {
		s.rejected("end", errors.ErrCodeCallNotActive)
		return nil, errors.CallNotActiveError()
	}

	s.cancelTimeout(ctx, callID)
	s.recordEnded("ended", outcome.Call)
	logger.Info("Call ended",
		zap.String("call_id", callID.String()),
		zap.String("ended_by", userID.String()))

	s.publish(ctx, domain.NewCallEnded(outcome.Call, userID, now))

	return outcome.Call, nil
}

// HandleTimeout ends the call if it is still ringing. A call that already
// became active or ended is left untouched and nil is returned.
func (s *Service) HandleTimeout(ctx context.Context, callID uuid.UUID) error {
	now := s.now()
	outcome, err := s.calls.EndCall(ctx, callID, []domain.CallStatus{domain.CallStatusRinging}, now)
	if err != nil {
		if stderrors.Is(err, domain.ErrCallNotFound) {
			logger.Warn("Ring timeout fired for unknown call", zap.String("call_id", callID.String()))
			return nil
		}
		return errors.DatabaseError(fmt.Errorf("failed to apply ring timeout: %w", err))
	}

	if !outcome.Ended {
		metrics.CallTimeoutNoopTotal.Inc()
		logger.Debug("Ring timeout ignored, call already progressed",
			zap.String("call_id", callID.String()),
			zap.String("status", string(outcome.Call.Status)))
		return nil
	}

	s.recordEnded("timeout", outcome.Call)
	logger.Info("Call timed out while ringing", zap.String("call_id", callID.String()))
	s.publish(ctx, domain.NewCallTimedOut(outcome.Call, now))

	return nil
}

// HandleTimeoutToken is the scheduler callback; it decodes the token and calls HandleTimeout
func (s *Service) HandleTimeoutToken(ctx context.Context, token string) error {
	callID, ok := ParseTimeoutToken(token)
	if !ok {
		logger.Warn("Ignoring malformed timeout token", zap.String("token", token))
		return nil
	}
	return s.HandleTimeout(ctx, callID)
}

// EnableScreenShare records the user as the current screen sharer
func (s *Service) EnableScreenShare(ctx context.Context, callID, userID uuid.UUID) (*domain.ScreenShare, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.requireJoined(call, userID, "screen_share"); err != nil {
		return nil, err
	}
	if !call.Status.IsOpen() {
		s.rejected("screen_share", errors.ErrCodeCallNotActive)
		return nil, errors.CallNotActiveError()
	}

	now := s.now()
	share := domain.ScreenShare{Enabled: true, SharedBy: userID, StartedAt: &now}
	ok, err := s.calls.SetScreenShare(ctx, callID, share)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to update screen share: %w", err))
	}
	if !ok {
		s.rejected("screen_share", errors.ErrCodeCallNotActive)
		return nil, errors.CallNotActiveError()
	}

	s.publish(ctx, domain.NewScreenShareStarted(call, userID, now))

	return &share, nil
}

// DisableScreenShare stops sharing. It is a no-op unless the caller is the current sharer.
func (s *Service) DisableScreenShare(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if err := s.requireJoined(call, userID, "screen_share"); err != nil {
		return err
	}

	now := s.now()
	ok, err := s.calls.StopScreenShare(ctx, callID, userID, now)
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("failed to update screen share: %w", err))
	}
	if !ok {
		logger.Debug("Screen share stop ignored, caller is not the active sharer",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		return nil
	}

	s.publish(ctx, domain.NewScreenShareEnded(call, userID, now))

	return nil
}

// GetCall returns a call to one of its participants
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Participant(userID) == nil {
		return nil, errors.AccessDeniedError("You are not a participant in this call")
	}
	return call, nil
}

// GetActiveCallInChannel returns the ringing or active call of a channel, or nil
func (s *Service) GetActiveCallInChannel(ctx context.Context, channelID, userID uuid.UUID) (*domain.Call, error) {
	if err := s.requireAccess(ctx, userID, channelID, "get_active"); err != nil {
		return nil, err
	}
	call, err := s.calls.GetOpenByChannel(ctx, channelID)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to get open call: %w", err))
	}
	return call, nil
}

// GetUserCallHistory retrieves call history for a user
func (s *Service) GetUserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.calls.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to get call history: %w", err))
	}
	return calls, nil
}

// TimeoutToken is the scheduler token of a call's ring timeout
func TimeoutToken(callID uuid.UUID) string {
	return constants.CallTimeoutTokenPrefix + callID.String()
}

// ParseTimeoutToken extracts the call ID from a ring timeout token
func ParseTimeoutToken(token string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(token, constants.CallTimeoutTokenPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (s *Service) loadCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if stderrors.Is(err, domain.ErrCallNotFound) {
			return nil, errors.CallNotFoundError()
		}
		return nil, errors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}
	return call, nil
}

func (s *Service) requireAccess(ctx context.Context, userID, channelID uuid.UUID, op string) error {
	ok, err := s.policy.CanAccessChannel(ctx, userID, channelID)
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("failed to check channel access: %w", err))
	}
	if !ok {
		s.rejected(op, errors.ErrCodeAccessDenied)
		return errors.AccessDeniedError("You do not have access to this channel")
	}
	return nil
}

func (s *Service) requireJoined(call *domain.Call, userID uuid.UUID, op string) error {
	p := call.Participant(userID)
	if p == nil || p.Status != domain.ParticipantJoined {
		s.rejected(op, errors.ErrCodeNotParticipant)
		return errors.NotAParticipantError()
	}
	return nil
}

func (s *Service) mapTransitionError(op string, err error) error {
	switch {
	case stderrors.Is(err, domain.ErrCallNotFound):
		return errors.CallNotFoundError()
	case stderrors.Is(err, domain.ErrCallNotActive):
		s.rejected(op, errors.ErrCodeCallNotActive)
		return errors.CallNotActiveError()
	case stderrors.Is(err, domain.ErrParticipantNotFound):
		s.rejected(op, errors.ErrCodeNotParticipant)
		return errors.NotAParticipantError()
	case stderrors.Is(err, domain.ErrInvalidCallState):
		s.rejected(op, errors.ErrCodeInvalidCallState)
		return errors.InvalidCallStateError("This action is not allowed in the current call state")
	default:
		return errors.DatabaseError(fmt.Errorf("failed to %s call: %w", op, err))
	}
}

// cancelTimeout is best effort: a timeout that still fires is a no-op
func (s *Service) cancelTimeout(ctx context.Context, callID uuid.UUID) {
	if err := s.scheduler.Cancel(ctx, TimeoutToken(callID)); err != nil {
		logger.Warn("Failed to cancel ring timeout",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}
	metrics.SchedulerTasksTotal.WithLabelValues("cancelled").Inc()
}

// publish runs after the state change committed, so delivery failures are logged, not returned
func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		metrics.EventPublishFailedTotal.WithLabelValues(string(event.Type())).Inc()
		logger.Error("Failed to publish call event",
			zap.String("type", string(event.Type())),
			zap.String("subject", event.Subject()),
			zap.Error(err))
	}
}

func (s *Service) rejected(op string, code errors.ErrorCode) {
	metrics.CallTransitionRejectedTotal.WithLabelValues(op, string(code)).Inc()
}

func (s *Service) recordEnded(reason string, call *domain.Call) {
	metrics.CallEndedTotal.WithLabelValues(reason).Inc()
	metrics.CallsOpen.Dec()
	if d := call.Duration(); d > 0 {
		metrics.CallDuration.Observe(d.Seconds())
	}
}

func mapChannelError(err error) error {
	if stderrors.Is(err, domain.ErrChannelNotFound) {
		return errors.ChannelNotFoundError()
	}
	return errors.DatabaseError(fmt.Errorf("failed to get channel: %w", err))
}

// selectInvitees picks who is invited besides the initiator. Direct channels
// invite the sole other member; other channels invite the explicit list
// restricted to members, or every other member when no list is given.
func selectInvitees(channel *domain.Channel, initiatorID uuid.UUID, memberIDs, explicit []uuid.UUID) []uuid.UUID {
	others := lo.Without(lo.Uniq(memberIDs), initiatorID)
	if channel.IsDirect() {
		return lo.Slice(others, 0, 1)
	}
	if len(explicit) == 0 {
		return others
	}
	return lo.Filter(others, func(id uuid.UUID, _ int) bool {
		return lo.Contains(explicit, id)
	})
}

func newRoomToken() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "room_" + hex.EncodeToString(b), nil
}
