package models

import "time"

// ChangeRequestEvent is the outbox record written with every committed transition.
// It carries the before/after snapshot consumed by the workflow reactor.
type ChangeRequestEvent struct {
	ID               string              `db:"id" json:"id"`
	RequestID        string              `db:"request_id" json:"request_id"`
	ShiftID          string              `db:"shift_id" json:"shift_id"`
	Version          int                 `db:"version" json:"version"`
	FromStatus       ChangeRequestStatus `db:"from_status" json:"from_status"`
	ToStatus         ChangeRequestStatus `db:"to_status" json:"to_status"`
	Action           TransitionAction    `db:"action" json:"action"`
	ActorID          string              `db:"actor_id" json:"actor_id"`
	RequesterID      string              `db:"requester_id" json:"requester_id"`
	RequesterName    string              `db:"requester_name" json:"requester_name"`
	ProposedUserID   *string             `db:"proposed_user_id" json:"proposed_user_id,omitempty"`
	ProposedUserName *string             `db:"proposed_user_name" json:"proposed_user_name,omitempty"`
	ManagerID        *string             `db:"manager_id" json:"manager_id,omitempty"`
	Note             *string             `db:"note" json:"note,omitempty"`
	Attempts         int                 `db:"attempts" json:"attempts"`
	LastError        *string             `db:"last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	ProcessedAt      *time.Time          `db:"processed_at" json:"processed_at,omitempty"`
}

// Changed reports whether the event moved the request to a different status.
func (e ChangeRequestEvent) Changed() bool {
	return e.FromStatus != e.ToStatus
}

// Candidate returns the proposed user snapshot, if any.
func (e ChangeRequestEvent) Candidate() (CandidateRef, bool) {
	if e.ProposedUserID == nil || *e.ProposedUserID == "" {
		return CandidateRef{}, false
	}
	return CandidateRef{UserID: *e.ProposedUserID, Name: stringValue(e.ProposedUserName)}, true
}

// NewTransitionEvent snapshots a request right after a transition.
func NewTransitionEvent(req ChangeRequest, from ChangeRequestStatus, action TransitionAction, actorID string) ChangeRequestEvent {
	return ChangeRequestEvent{
		RequestID:        req.ID,
		ShiftID:          req.OriginalShiftID,
		Version:          req.Version,
		FromStatus:       from,
		ToStatus:         req.Status,
		Action:           action,
		ActorID:          actorID,
		RequesterID:      req.RequesterID,
		RequesterName:    req.RequesterName,
		ProposedUserID:   req.ProposedUserID,
		ProposedUserName: req.ProposedUserName,
		ManagerID:        req.ManagerID,
		Note:             req.ManagerNote,
	}
}
