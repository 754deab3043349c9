package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Authorization errors
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeNotAuthorized  ErrorCode = "NOT_AUTHORIZED"
	ErrCodeNotParticipant ErrorCode = "NOT_A_PARTICIPANT"

	// Not found errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound    ErrorCode = "USER_NOT_FOUND"
	ErrCodeChannelNotFound ErrorCode = "CHANNEL_NOT_FOUND"
	ErrCodeCallNotFound    ErrorCode = "CALL_NOT_FOUND"

	// Call state errors
	ErrCodeDuplicateActiveCall ErrorCode = "DUPLICATE_ACTIVE_CALL"
	ErrCodeCallNotActive       ErrorCode = "CALL_NOT_ACTIVE"
	ErrCodeInvalidCallState    ErrorCode = "INVALID_CALL_STATE"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeCache          ErrorCode = "CACHE_ERROR"
	ErrCodeScheduler      ErrorCode = "SCHEDULER_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// infrastructureCodes are failures of a collaborator rather than of the request
var infrastructureCodes = map[ErrorCode]bool{
	ErrCodeDatabase:       true,
	ErrCodeCache:          true,
	ErrCodeScheduler:      true,
	ErrCodeServiceUnavail: true,
}

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Authorization errors
func AccessDeniedError(message string) *AppError {
	return NewWithStatus(ErrCodeAccessDenied, message, http.StatusForbidden)
}

func NotAuthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeNotAuthorized, message, http.StatusForbidden)
}

func NotAParticipantError() *AppError {
	return NewWithStatus(ErrCodeNotParticipant, "You are not a participant in this call", http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return NewWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

func ChannelNotFoundError() *AppError {
	return NewWithStatus(ErrCodeChannelNotFound, "Channel not found", http.StatusNotFound)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

// Call state errors
func DuplicateActiveCallError() *AppError {
	return NewWithStatus(ErrCodeDuplicateActiveCall, "There is already an active call in this channel", http.StatusConflict)
}

func CallNotActiveError() *AppError {
	return NewWithStatus(ErrCodeCallNotActive, "This call is no longer active", http.StatusConflict)
}

func InvalidCallStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidCallState, message, http.StatusConflict)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func CacheError(err error) *AppError {
	return WrapWithStatus(ErrCodeCache, "Cache error", http.StatusServiceUnavailable, err)
}

func SchedulerError(err error) *AppError {
	return WrapWithStatus(ErrCodeScheduler, "Scheduler error", http.StatusServiceUnavailable, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return WrapWithStatus(ErrCodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// HasCode reports whether err carries the given application error code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsInfrastructure reports whether err is a collaborator failure (store, cache, scheduler)
// rather than a domain rule violation. Callers own any retry policy.
func IsInfrastructure(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return infrastructureCodes[appErr.Code]
}
