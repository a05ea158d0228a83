package dto

import (
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
)

// RequestChangeRequest is the employee payload for asking coverage of a shift.
type RequestChangeRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// AssignCandidateRequest proposes a replacement for a pending request.
type AssignCandidateRequest struct {
	CandidateID      string `json:"candidateId" validate:"required"`
	ConfirmClopening bool   `json:"confirmClopening"`
	ExpectedVersion  *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

// RejectChangeRequestRequest declines a pending request outright.
type RejectChangeRequestRequest struct {
	Reason          string `json:"reason" validate:"required,max=500"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

// ApproveChangeRequestRequest gives final approval to an accepted proposal.
type ApproveChangeRequestRequest struct {
	ExpectedVersion *int `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

// DecisionRequest is the candidate's answer to a proposal.
type DecisionRequest struct {
	Accept          *bool `json:"accept" validate:"required"`
	ExpectedVersion *int  `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

// ChangeRequestQuery mirrors supported listing filters.
type ChangeRequestQuery struct {
	Status  []models.ChangeRequestStatus
	ShiftID string
	Limit   int
	Offset  int
}

// ChangeRequestView decorates a request with triage hints.
type ChangeRequestView struct {
	models.ChangeRequest
	AgeSeconds int64 `json:"ageSeconds"`
	Stale      bool  `json:"stale"`
}

// RequestReview is what a manager sees when opening a request.
type RequestReview struct {
	Request    ChangeRequestView            `json:"request"`
	Shift      models.Shift                 `json:"shift"`
	Candidates models.CandidateSearchResult `json:"candidates"`
}

// ReconciliationItem is an outbox event the reactor could not apply.
type ReconciliationItem struct {
	EventID    string                     `json:"eventId"`
	RequestID  string                     `json:"requestId"`
	ShiftID    string                     `json:"shiftId"`
	Action     models.TransitionAction    `json:"action"`
	FromStatus models.ChangeRequestStatus `json:"fromStatus"`
	ToStatus   models.ChangeRequestStatus `json:"toStatus"`
	Attempts   int                        `json:"attempts"`
	LastError  string                     `json:"lastError"`
	CreatedAt  time.Time                  `json:"createdAt"`
}
