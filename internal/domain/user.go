package domain

import "time"

// UserRole distinguishes regular bidders from auction administrators.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User is the minimal identity record the platform needs: enough to attribute
// bids, name winners in broadcasts, and deliver the winner notification.
// Authentication and session mechanics live outside this service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserRef is the compact user shape embedded in broadcast payloads.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
