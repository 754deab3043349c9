package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

// IsOpen reports whether the call still counts against the one-open-call-per-channel rule
func (s CallStatus) IsOpen() bool {
	return s == CallStatusRinging || s == CallStatusActive
}

// ParticipantStatus is the state of a user inside a call
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantRejected ParticipantStatus = "rejected"
)

// IsTerminal reports whether the participant can no longer change state
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantLeft || s == ParticipantRejected
}

// Call represents a voice/video session scoped to a channel
type Call struct {
	CallID       uuid.UUID          `json:"call_id"`
	ChannelID    uuid.UUID          `json:"channel_id"`
	InitiatorID  uuid.UUID          `json:"initiator_id"`
	CallType     CallType           `json:"call_type"`
	Status       CallStatus         `json:"status"`
	RoomToken    string             `json:"room_token"`
	Metadata     map[string]any     `json:"metadata"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	Participants []*CallParticipant `json:"participants"`
}

// CallParticipant represents a user's membership in a call
type CallParticipant struct {
	CallID   uuid.UUID         `json:"call_id"`
	UserID   uuid.UUID         `json:"user_id"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt *time.Time        `json:"joined_at,omitempty"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
}

// Participant returns the participant row for userID, or nil
func (c *Call) Participant(userID uuid.UUID) *CallParticipant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// JoinedCount returns how many participants are currently joined
func (c *Call) JoinedCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// Duration returns the time between start and end, zero while the call never became active
func (c *Call) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// Clone returns a deep copy of the call and its participants
func (c *Call) Clone() *Call {
	cp := *c
	cp.StartedAt = cloneTime(c.StartedAt)
	cp.EndedAt = cloneTime(c.EndedAt)
	cp.Metadata = cloneMap(c.Metadata)
	cp.Participants = make([]*CallParticipant, len(c.Participants))
	for i, p := range c.Participants {
		pc := *p
		pc.JoinedAt = cloneTime(p.JoinedAt)
		pc.LeftAt = cloneTime(p.LeftAt)
		cp.Participants[i] = &pc
	}
	return &cp
}

// JoinOutcome describes what a join transition changed
type JoinOutcome struct {
	Call          *Call
	Activated     bool // ringing -> active happened in this transition
	AlreadyJoined bool
}

// LeaveOutcome describes what a leave transition changed
type LeaveOutcome struct {
	Call      *Call
	Changed   bool // participant moved joined -> left
	CallEnded bool // this leave emptied the call and ended it
}

// RejectOutcome describes what a reject transition changed
type RejectOutcome struct {
	Call      *Call
	CallEnded bool
}

// EndOutcome describes the result of a compare-and-set end
type EndOutcome struct {
	Call  *Call
	Ended bool
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
