package domain

import "errors"

// Repository-level sentinel errors. Services translate these into AppErrors.
var (
	ErrCallNotFound        = errors.New("call not found")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrCallNotActive       = errors.New("call is not ringing or active")
	ErrInvalidCallState    = errors.New("transition not allowed in current call state")
	ErrDuplicateActiveCall = errors.New("channel already has an open call")
)
