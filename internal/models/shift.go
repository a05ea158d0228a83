package models

import "time"

// ShiftStatus is the authoritative status of a scheduled shift.
type ShiftStatus string

const (
	ShiftStatusConfirmed       ShiftStatus = "confirmado"
	ShiftStatusChangeRequested ShiftStatus = "cambio_solicitado"
	ShiftStatusChangeInProcess ShiftStatus = "cambio_en_proceso"
	ShiftStatusChangeApproved  ShiftStatus = "cambio_aprobado"
	ShiftStatusOfferedManager  ShiftStatus = "cambio_ofrecido_gerente"
	ShiftStatusUnassigned      ShiftStatus = "sin_asignar"
)

// Shift is a scheduled work period owned by one user.
type Shift struct {
	ID        string      `db:"id" json:"id"`
	UserID    *string     `db:"user_id" json:"user_id,omitempty"`
	UserName  string      `db:"user_name" json:"user_name"`
	Role      UserRole    `db:"role" json:"role"`
	StartsAt  time.Time   `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time   `db:"ends_at" json:"ends_at"`
	ShiftType string      `db:"shift_type" json:"shift_type"`
	Status    ShiftStatus `db:"status" json:"status"`
	Notes     string      `db:"notes" json:"notes"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// OwnerID returns the owning user or an empty string for unassigned shifts.
func (s Shift) OwnerID() string {
	if s.UserID == nil {
		return ""
	}
	return *s.UserID
}

// Overlaps reports whether the shift intersects [start, end). Touching edges do not overlap.
func (s Shift) Overlaps(start, end time.Time) bool {
	return s.StartsAt.Before(end) && start.Before(s.EndsAt)
}

// ShiftFilter constrains shift listing.
type ShiftFilter struct {
	IDs     []string
	UserIDs []string
	From    *time.Time
	To      *time.Time
	Status  []ShiftStatus
	Limit   int
	Offset  int
}
