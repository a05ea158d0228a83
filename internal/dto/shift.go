package dto

import (
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
)

// CreateShiftRequest publishes a single shift.
type CreateShiftRequest struct {
	UserID    string          `json:"userId" validate:"required"`
	Role      models.UserRole `json:"role,omitempty"`
	StartsAt  time.Time       `json:"startsAt" validate:"required"`
	EndsAt    time.Time       `json:"endsAt" validate:"required,gtfield=StartsAt"`
	ShiftType string          `json:"shiftType" validate:"max=40"`
	Notes     string          `json:"notes" validate:"max=500"`
}

// BatchCreateShiftsRequest publishes a schedule atomically.
type BatchCreateShiftsRequest struct {
	Shifts []CreateShiftRequest `json:"shifts" validate:"required,min=1,max=500,dive"`
}

// ShiftQuery mirrors supported listing filters.
type ShiftQuery struct {
	From   *time.Time
	To     *time.Time
	UserID string
	Status []models.ShiftStatus
}
