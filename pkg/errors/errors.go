package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same error code, so clones with custom
// messages still match the predefined kinds below.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Generic errors.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment engine errors.
var (
	ErrRoleNotEligible        = New("ROLE_NOT_ELIGIBLE", http.StatusForbidden, "role is not eligible to enroll")
	ErrInvalidSession         = New("INVALID_SESSION", http.StatusBadRequest, "session does not exist or does not belong to class")
	ErrSessionNotEnrollable   = New("SESSION_NOT_ENROLLABLE", http.StatusConflict, "session is no longer open for enrollment")
	ErrAlreadyEnrolled        = New("ALREADY_ENROLLED", http.StatusConflict, "student already holds an active enrollment for this class")
	ErrSessionFull            = &Error{Code: "SESSION_FULL", Status: http.StatusConflict, Message: "session is full", Details: map[string]interface{}{"next_action": "join_waitlist"}}
	ErrAlreadyWaitlisted      = New("ALREADY_WAITLISTED", http.StatusConflict, "student is already on the waitlist")
	ErrSessionNotFull         = New("SESSION_NOT_FULL", http.StatusConflict, "session still has open seats")
	ErrInvalidStateTransition = New("INVALID_STATE_TRANSITION", http.StatusConflict, "enrollment cannot make this transition")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Internal wraps an unexpected failure with a contextual message.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
