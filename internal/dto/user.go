package dto

import "github.com/noah-isme/turnos-api/internal/models"

// CreateUserRequest adds a member to the roster.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"fullName" validate:"required,max=120"`
	Role     models.UserRole `json:"role" validate:"required"`
	Password string          `json:"password" validate:"required,min=8"`
}

// UserQuery mirrors supported listing filters.
type UserQuery struct {
	Role   *models.UserRole
	Active *bool
}

// DeactivationSummary reports the effects of removing a user from the roster.
type DeactivationSummary struct {
	User             models.User `json:"user"`
	ReleasedShifts   []string    `json:"releasedShifts"`
	NotifiedManagers int         `json:"notifiedManagers"`
}
