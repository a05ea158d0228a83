package models

import (
	"errors"
	"fmt"
	"time"
)

// ChangeRequestStatus captures workflow states for coverage requests.
type ChangeRequestStatus string

const (
	RequestStatusPendingManager   ChangeRequestStatus = "PENDIENTE_GERENTE"
	RequestStatusProposedEmployee ChangeRequestStatus = "PROPUESTO_EMPLEADO"
	RequestStatusAcceptedEmployee ChangeRequestStatus = "ACEPTADO_EMPLEADO"
	RequestStatusRejectedEmployee ChangeRequestStatus = "RECHAZADO_EMPLEADO"
	RequestStatusApprovedManager  ChangeRequestStatus = "APROBADO_GERENTE"
	RequestStatusRejectedManager  ChangeRequestStatus = "RECHAZADO_GERENTE"
)

// Terminal reports whether no further transition may leave the status.
func (s ChangeRequestStatus) Terminal() bool {
	return s == RequestStatusApprovedManager || s == RequestStatusRejectedManager
}

// HasCandidate reports whether a proposed user must be attached in this status.
func (s ChangeRequestStatus) HasCandidate() bool {
	switch s {
	case RequestStatusProposedEmployee, RequestStatusAcceptedEmployee,
		RequestStatusRejectedEmployee, RequestStatusApprovedManager:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ChangeRequestStatus) Valid() bool {
	switch s {
	case RequestStatusPendingManager, RequestStatusProposedEmployee, RequestStatusAcceptedEmployee,
		RequestStatusRejectedEmployee, RequestStatusApprovedManager, RequestStatusRejectedManager:
		return true
	}
	return false
}

// ActiveRequestStatuses lists every non-terminal status.
func ActiveRequestStatuses() []ChangeRequestStatus {
	return []ChangeRequestStatus{
		RequestStatusPendingManager,
		RequestStatusProposedEmployee,
		RequestStatusAcceptedEmployee,
		RequestStatusRejectedEmployee,
	}
}

// TransitionAction names an edge of the change request graph.
type TransitionAction string

const (
	ActionCreate        TransitionAction = "create"
	ActionPropose       TransitionAction = "propose"
	ActionManagerReject TransitionAction = "manager_reject"
	ActionAccept        TransitionAction = "accept"
	ActionDecline       TransitionAction = "decline"
	ActionRecycle       TransitionAction = "recycle"
	ActionApprove       TransitionAction = "approve"
)

// ErrIllegalTransition is returned for edges missing from the graph.
var ErrIllegalTransition = errors.New("illegal change request transition")

var transitionGraph = map[ChangeRequestStatus]map[TransitionAction]ChangeRequestStatus{
	"": {
		ActionCreate: RequestStatusPendingManager,
	},
	RequestStatusPendingManager: {
		ActionPropose:       RequestStatusProposedEmployee,
		ActionManagerReject: RequestStatusRejectedManager,
	},
	RequestStatusProposedEmployee: {
		ActionAccept:  RequestStatusAcceptedEmployee,
		ActionDecline: RequestStatusRejectedEmployee,
	},
	RequestStatusRejectedEmployee: {
		ActionRecycle: RequestStatusPendingManager,
	},
	RequestStatusAcceptedEmployee: {
		ActionApprove: RequestStatusApprovedManager,
	},
}

// NextStatus resolves the status reached from `from` through `action`.
func NextStatus(from ChangeRequestStatus, action TransitionAction) (ChangeRequestStatus, error) {
	edges, ok := transitionGraph[from]
	if !ok {
		return "", fmt.Errorf("%w: %s has no outgoing edges", ErrIllegalTransition, from)
	}
	to, ok := edges[action]
	if !ok {
		return "", fmt.Errorf("%w: %s cannot %s", ErrIllegalTransition, from, action)
	}
	return to, nil
}

// ChangeRequest tracks the search for coverage of one shift.
type ChangeRequest struct {
	ID               string              `db:"id" json:"id"`
	OriginalShiftID  string              `db:"original_shift_id" json:"original_shift_id"`
	RequesterID      string              `db:"requester_id" json:"requester_id"`
	RequesterName    string              `db:"requester_name" json:"requester_name"`
	ProposedUserID   *string             `db:"proposed_user_id" json:"proposed_user_id,omitempty"`
	ProposedUserName *string             `db:"proposed_user_name" json:"proposed_user_name,omitempty"`
	ManagerID        *string             `db:"manager_id" json:"manager_id,omitempty"`
	Status           ChangeRequestStatus `db:"status" json:"status"`
	Reason           string              `db:"reason" json:"reason"`
	ManagerNote      *string             `db:"manager_note" json:"manager_note,omitempty"`
	Version          int                 `db:"version" json:"version"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
	ResolvedAt       *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
}

// CandidateRef identifies the user proposed as replacement.
type CandidateRef struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// RequestPhase is the status-keyed view of a change request. Each variant carries
// exactly the fields that are meaningful in its status.
type RequestPhase interface {
	Status() ChangeRequestStatus
	isRequestPhase()
}

// PendingManagerPhase waits for a manager to propose someone or decline.
type PendingManagerPhase struct{}

// ProposedPhase waits for the candidate's decision.
type ProposedPhase struct {
	Candidate CandidateRef
	ManagerID string
}

// AcceptedPhase waits for the manager's final approval.
type AcceptedPhase struct {
	Candidate CandidateRef
	ManagerID string
}

// DeclinedPhase is transient; the reactor recycles it to the manager queue.
type DeclinedPhase struct {
	Candidate CandidateRef
	ManagerID string
}

// ApprovedPhase is terminal; the shift now belongs to the candidate.
type ApprovedPhase struct {
	Candidate  CandidateRef
	ManagerID  string
	ResolvedAt time.Time
}

// ManagerRejectedPhase is terminal; the shift stays with the requester.
type ManagerRejectedPhase struct {
	ManagerID  string
	Reason     string
	ResolvedAt time.Time
}

func (PendingManagerPhase) Status() ChangeRequestStatus  { return RequestStatusPendingManager }
func (ProposedPhase) Status() ChangeRequestStatus        { return RequestStatusProposedEmployee }
func (AcceptedPhase) Status() ChangeRequestStatus        { return RequestStatusAcceptedEmployee }
func (DeclinedPhase) Status() ChangeRequestStatus        { return RequestStatusRejectedEmployee }
func (ApprovedPhase) Status() ChangeRequestStatus        { return RequestStatusApprovedManager }
func (ManagerRejectedPhase) Status() ChangeRequestStatus { return RequestStatusRejectedManager }

func (PendingManagerPhase) isRequestPhase()  {}
func (ProposedPhase) isRequestPhase()        {}
func (AcceptedPhase) isRequestPhase()        {}
func (DeclinedPhase) isRequestPhase()        {}
func (ApprovedPhase) isRequestPhase()        {}
func (ManagerRejectedPhase) isRequestPhase() {}

// ErrMalformedRequest flags rows whose optional fields disagree with their status.
var ErrMalformedRequest = errors.New("malformed change request")

// Phase projects the stored row into its status-specific variant.
func (r ChangeRequest) Phase() (RequestPhase, error) {
	hasCandidate := r.ProposedUserID != nil && *r.ProposedUserID != ""
	if r.Status.HasCandidate() != hasCandidate {
		return nil, fmt.Errorf("%w: status %s with proposed user set=%t", ErrMalformedRequest, r.Status, hasCandidate)
	}
	candidate := CandidateRef{}
	if hasCandidate {
		candidate.UserID = *r.ProposedUserID
		if r.ProposedUserName != nil {
			candidate.Name = *r.ProposedUserName
		}
	}
	manager := stringValue(r.ManagerID)
	if r.Status.HasCandidate() && manager == "" {
		return nil, fmt.Errorf("%w: status %s without manager", ErrMalformedRequest, r.Status)
	}
	resolved := time.Time{}
	if r.ResolvedAt != nil {
		resolved = *r.ResolvedAt
	}
	if r.Status.Terminal() && resolved.IsZero() {
		return nil, fmt.Errorf("%w: terminal status %s without resolution time", ErrMalformedRequest, r.Status)
	}

	switch r.Status {
	case RequestStatusPendingManager:
		if manager != "" {
			return nil, fmt.Errorf("%w: pending request still bound to manager", ErrMalformedRequest)
		}
		return PendingManagerPhase{}, nil
	case RequestStatusProposedEmployee:
		return ProposedPhase{Candidate: candidate, ManagerID: manager}, nil
	case RequestStatusAcceptedEmployee:
		return AcceptedPhase{Candidate: candidate, ManagerID: manager}, nil
	case RequestStatusRejectedEmployee:
		return DeclinedPhase{Candidate: candidate, ManagerID: manager}, nil
	case RequestStatusApprovedManager:
		return ApprovedPhase{Candidate: candidate, ManagerID: manager, ResolvedAt: resolved}, nil
	case RequestStatusRejectedManager:
		return ManagerRejectedPhase{ManagerID: manager, Reason: stringValue(r.ManagerNote), ResolvedAt: resolved}, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedRequest, r.Status)
}

// Validate checks the row against its status-specific shape.
func (r ChangeRequest) Validate() error {
	_, err := r.Phase()
	return err
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	Status        []ChangeRequestStatus
	ShiftID       string
	RequesterID   string
	ParticipantID string
	Limit         int
	Offset        int
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
