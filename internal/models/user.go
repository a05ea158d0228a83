package models

import "time"

// UserRole represents the restaurant roles known to the roster.
type UserRole string

const (
	RoleMesero         UserRole = "mesero"
	RoleBartender      UserRole = "bartender"
	RoleHostess        UserRole = "hostess"
	RoleCajero         UserRole = "cajero"
	RoleCocinero       UserRole = "cocinero"
	RoleAyudanteCocina UserRole = "ayudante_cocina"
	RoleLavaplatos     UserRole = "lavaplatos"
	RoleGerente        UserRole = "gerente"
	RoleDueno          UserRole = "dueno"
)

// IsManagement reports whether the role reviews change requests.
func (r UserRole) IsManagement() bool {
	return r == RoleGerente || r == RoleDueno
}

// Valid reports whether the role belongs to the fixed role set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleMesero, RoleBartender, RoleHostess, RoleCajero,
		RoleCocinero, RoleAyudanteCocina, RoleLavaplatos,
		RoleGerente, RoleDueno:
		return true
	}
	return false
}

// User represents a roster member stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role   *UserRole
	Active *bool
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
