package auth

import "time"

// Role is the party a user acts as. The three negotiating parties match the
// workflow roles; operators administer the platform and never negotiate.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleShipper  Role = "shipper"
	RoleCarrier  Role = "carrier"
	RoleOperator Role = "operator"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
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

// Claims is what a verified token says about its bearer.
type Claims struct {
	UserID string
	Email  string
	Role   Role
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
