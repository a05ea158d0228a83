package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrRateLimited        = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Workflow errors surfaced by the change-request coordinators.
var (
	ErrInvalidTransition         = New("INVALID_TRANSITION", http.StatusConflict, "change request cannot move to the requested state")
	ErrNotProposedUser           = New("NOT_PROPOSED_USER", http.StatusForbidden, "this proposal is not addressed to you")
	ErrActiveRequestExists       = New("ACTIVE_REQUEST_EXISTS", http.StatusConflict, "this shift already has an open change request")
	ErrStaleRequest              = New("STALE_REQUEST", http.StatusConflict, "change request was modified by someone else, reload and try again")
	ErrClopeningConfirmation     = New("CLOPENING_CONFIRMATION_REQUIRED", http.StatusPreconditionRequired, "candidate closed the previous night, confirm the assignment")
	ErrCandidateUnavailable      = New("CANDIDATE_UNAVAILABLE", http.StatusConflict, "candidate cannot cover this shift")
	ErrShiftNotEligible          = New("SHIFT_NOT_ELIGIBLE", http.StatusPreconditionFailed, "shift cannot be changed in its current state")
	ErrReconciliationUnavailable = New("RECONCILIATION_UNAVAILABLE", http.StatusServiceUnavailable, "workflow reactor is not running")
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
