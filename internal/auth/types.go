package auth

import "time"

// User is an account that can sign in and hold memberships.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership joins a user to a company.
type Membership struct {
	CompanyID string     `json:"company_id"`
	UserID    string     `json:"user_id"`
	RoleID    *string    `json:"role_id"`
	IsAdmin   bool       `json:"is_admin"`
	IsActive  bool       `json:"is_active"`
	InvitedAt *time.Time `json:"invited_at,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
}

// Role belongs to a company and groups permission keys.
type Role struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Email  string
}
