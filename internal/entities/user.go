package entities

import "time"

const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// User is a support staff account for the dashboard API.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
