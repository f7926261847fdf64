package models

import "time"

// UserRole is the closed set of roles the core reacts to. Roles are resolved by
// the identity provider; the core only reflects them.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTrainer UserRole = "trainer"
	RoleAdmin   UserRole = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleStudent, RoleTrainer, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may see trainer screens.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleTrainer, RoleAdmin:
		return true
	case RoleStudent:
		return false
	}
	return false
}

// Identity is the authenticated user as resolved at login.
type Identity struct {
	UserID string   `json:"user_id" validate:"required"`
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty"`
	Role   UserRole `json:"role" validate:"required,user_role"`
	Token  string   `json:"-"`
}

// Certificate is issued when the learner reaches the certified state.
type Certificate struct {
	UserID     string    `json:"user_id"`
	WorkshopID uint      `json:"workshop_id"`
	Title      string    `json:"title"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	Passed     bool      `json:"passed"`
	IssuedAt   time.Time `json:"issued_at"`
}
