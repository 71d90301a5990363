package auth

import "time"

type Role string

const (
	// RoleUser is any account that can file or answer disputes.
	RoleUser Role = "user"
	// RoleAdmin can finalize settlements and force court referrals.
	RoleAdmin Role = "admin"
)

// User is the domain representation of an authenticated account. It mirrors
// the users table and should not include JSON annotations so it can be
// reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
