package auth

import "time"

// Role scopes what a staff member may do with contracts.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleViewer      Role = "viewer"
)

// StaffUser is the domain representation of a staff account. It mirrors the
// staff_users table and carries no JSON annotations so presentation layers
// can shape their own responses.
type StaffUser struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains staff registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains staff login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
