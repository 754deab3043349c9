package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event. The set is closed: every value is declared below.
type EventType string

const (
	EventCallInitiated       EventType = "call.initiated"
	EventParticipantJoined   EventType = "call.participant_joined"
	EventParticipantLeft     EventType = "call.participant_left"
	EventParticipantRejected EventType = "call.participant_rejected"
	EventCallEnded           EventType = "call.ended"
	EventCallAutoEnded       EventType = "call.auto_ended"
	EventCallTimeout         EventType = "call.timeout"
	EventScreenShareStarted  EventType = "call.screen_share_started"
	EventScreenShareEnded    EventType = "call.screen_share_ended"
	EventUserPresenceUpdated EventType = "user.presence_updated"
	EventUserTyping          EventType = "user.typing"
	EventUserStoppedTyping   EventType = "user.stopped_typing"
)

// Subject prefixes used by every event transport
const (
	SubjectChannels = "chat.channels"
	SubjectUsers    = "chat.users"
)

// ChannelSubject is the subject events scoped to a channel are published on
func ChannelSubject(channelID uuid.UUID, t EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectChannels, channelID, t)
}

// ChannelSubjectPattern matches every event of one channel
func ChannelSubjectPattern(channelID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.*", SubjectChannels, channelID)
}

// UserPresenceSubject is the subject presence changes of a user are published on
func UserPresenceSubject(userID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.presence", SubjectUsers, userID)
}

// Event is implemented by every domain event variant
type Event interface {
	Type() EventType
	Subject() string
	Timestamp() time.Time
}

// BaseEvent carries the envelope fields shared by all events
type BaseEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	EventType  EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventID: uuid.New(), EventType: t, OccurredAt: at.UTC()}
}

// Type returns the event's tag
func (e BaseEvent) Type() EventType { return e.EventType }

// Timestamp returns when the event occurred, in UTC
func (e BaseEvent) Timestamp() time.Time { return e.OccurredAt }

// CallInitiated is published once a call and its participants are stored
type CallInitiated struct {
	BaseEvent
	Call *Call `json:"call"`
}

// NewCallInitiated carries the stored call with its participants
func NewCallInitiated(call *Call, at time.Time) *CallInitiated {
	return &CallInitiated{BaseEvent: newBase(EventCallInitiated, at), Call: call.Clone()}
}

// Subject returns the call channel's subject
func (e *CallInitiated) Subject() string { return ChannelSubject(e.Call.ChannelID, e.EventType) }

// ParticipantChanged is published for joined, left and rejected transitions
type ParticipantChanged struct {
	BaseEvent
	CallID     uuid.UUID  `json:"call_id"`
	ChannelID  uuid.UUID  `json:"channel_id"`
	UserID     uuid.UUID  `json:"user_id"`
	CallStatus CallStatus `json:"call_status"`
}

func newParticipantChanged(t EventType, call *Call, userID uuid.UUID, at time.Time) *ParticipantChanged {
	return &ParticipantChanged{
		BaseEvent:  newBase(t, at),
		CallID:     call.CallID,
		ChannelID:  call.ChannelID,
		UserID:     userID,
		CallStatus: call.Status,
	}
}

// NewParticipantJoined reports userID joining call
func NewParticipantJoined(call *Call, userID uuid.UUID, at time.Time) *ParticipantChanged {
	return newParticipantChanged(EventParticipantJoined, call, userID, at)
}

// NewParticipantLeft reports userID leaving call
func NewParticipantLeft(call *Call, userID uuid.UUID, at time.Time) *ParticipantChanged {
	return newParticipantChanged(EventParticipantLeft, call, userID, at)
}

// NewParticipantRejected reports userID declining call
func NewParticipantRejected(call *Call, userID uuid.UUID, at time.Time) *ParticipantChanged {
	return newParticipantChanged(EventParticipantRejected, call, userID, at)
}

// Subject returns the call channel's subject
func (e *ParticipantChanged) Subject() string { return ChannelSubject(e.ChannelID, e.EventType) }

// CallClosed is published when a call reaches ended. EndedBy is set only for
// explicit ends (including reject on a direct channel).
type CallClosed struct {
	BaseEvent
	CallID    uuid.UUID  `json:"call_id"`
	ChannelID uuid.UUID  `json:"channel_id"`
	EndedBy   *uuid.UUID `json:"ended_by,omitempty"`
	EndedAt   time.Time  `json:"ended_at"`
}

func newCallClosed(t EventType, call *Call, endedBy *uuid.UUID, at time.Time) *CallClosed {
	endedAt := at.UTC()
	if call.EndedAt != nil {
		endedAt = call.EndedAt.UTC()
	}
	return &CallClosed{
		BaseEvent: newBase(t, at),
		CallID:    call.CallID,
		ChannelID: call.ChannelID,
		EndedBy:   endedBy,
		EndedAt:   endedAt,
	}
}

// NewCallEnded reports an explicit end by endedBy
func NewCallEnded(call *Call, endedBy uuid.UUID, at time.Time) *CallClosed {
	return newCallClosed(EventCallEnded, call, &endedBy, at)
}

// NewCallAutoEnded reports a call ended because no participant remained joined
func NewCallAutoEnded(call *Call, at time.Time) *CallClosed {
	return newCallClosed(EventCallAutoEnded, call, nil, at)
}

// NewCallTimedOut reports a ringing call closed by its ring timeout
func NewCallTimedOut(call *Call, at time.Time) *CallClosed {
	return newCallClosed(EventCallTimeout, call, nil, at)
}

// Subject returns the call channel's subject
func (e *CallClosed) Subject() string { return ChannelSubject(e.ChannelID, e.EventType) }

// ScreenShareChanged is published when a participant starts or stops sharing
type ScreenShareChanged struct {
	BaseEvent
	CallID    uuid.UUID `json:"call_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// NewScreenShareStarted reports userID starting to share
func NewScreenShareStarted(call *Call, userID uuid.UUID, at time.Time) *ScreenShareChanged {
	return &ScreenShareChanged{BaseEvent: newBase(EventScreenShareStarted, at), CallID: call.CallID, ChannelID: call.ChannelID, UserID: userID}
}

// NewScreenShareEnded reports userID stopping to share
func NewScreenShareEnded(call *Call, userID uuid.UUID, at time.Time) *ScreenShareChanged {
	return &ScreenShareChanged{BaseEvent: newBase(EventScreenShareEnded, at), CallID: call.CallID, ChannelID: call.ChannelID, UserID: userID}
}

// Subject returns the call channel's subject
func (e *ScreenShareChanged) Subject() string { return ChannelSubject(e.ChannelID, e.EventType) }

// PresenceUpdated is published whenever a persisted status changes
type PresenceUpdated struct {
	BaseEvent
	UserID         uuid.UUID      `json:"user_id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Status         PresenceStatus `json:"status"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
}

// NewPresenceUpdated builds the event for a status change made at `at`.
// lastSeenAt is the user's last activity, which a sweep leaves in the past.
func NewPresenceUpdated(user *User, status PresenceStatus, lastSeenAt, at time.Time) *PresenceUpdated {
	return &PresenceUpdated{
		BaseEvent:      newBase(EventUserPresenceUpdated, at),
		UserID:         user.UserID,
		OrganizationID: user.OrganizationID,
		Status:         status,
		LastSeenAt:     lastSeenAt.UTC(),
	}
}

// Subject returns the user's presence subject
func (e *PresenceUpdated) Subject() string { return UserPresenceSubject(e.UserID) }

// TypingChanged is published for typing start and stop
type TypingChanged struct {
	BaseEvent
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// NewUserTyping reports userID typing in channelID
func NewUserTyping(channelID, userID uuid.UUID, at time.Time) *TypingChanged {
	return &TypingChanged{BaseEvent: newBase(EventUserTyping, at), ChannelID: channelID, UserID: userID}
}

// NewUserStoppedTyping reports userID no longer typing in channelID
func NewUserStoppedTyping(channelID, userID uuid.UUID, at time.Time) *TypingChanged {
	return &TypingChanged{BaseEvent: newBase(EventUserStoppedTyping, at), ChannelID: channelID, UserID: userID}
}

// Subject returns the channel's subject
func (e *TypingChanged) Subject() string { return ChannelSubject(e.ChannelID, e.EventType) }
