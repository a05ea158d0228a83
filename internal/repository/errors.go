package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrShiftNotEligible is returned when a conditional shift update matched no row.
	ErrShiftNotEligible = errors.New("shift not eligible for change")
	// ErrActiveRequestExists is returned when a shift already has an in-flight request.
	ErrActiveRequestExists = errors.New("shift already has an active change request")
	// ErrStaleRequest is returned when a change request moved on before a transition committed.
	ErrStaleRequest = errors.New("change request was modified concurrently")
	// ErrEventClaimed is returned when an outbox event has already been processed.
	ErrEventClaimed = errors.New("change request event already processed")
	// ErrShiftStateMismatch is returned when a shift is not in the state an event expects.
	ErrShiftStateMismatch = errors.New("shift state does not match change request event")
	// ErrCandidateInactive is returned when a proposed replacement is no longer an active user.
	ErrCandidateInactive = errors.New("proposed user is not active")
	// ErrUserHasActiveRequests blocks deactivation while the user takes part in an open request.
	ErrUserHasActiveRequests = errors.New("user participates in active change requests")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
