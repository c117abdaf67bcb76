package auth

import "time"

// User represents a login account. Authorization data lives on rbac.Identity.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token is an issued bearer credential.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	UserID    int64
	SessionID string
	ExpiresAt time.Time
}
