package auth

import (
	"context"
	"time"
)

// User is a registered account. Its ID is the owner id stamped on jobs.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// UserStore persists users.
type UserStore interface {
	// CreateUser inserts a user; a taken username fails with apperrors.ErrConflict.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername fails with apperrors.ErrNotFound for unknown usernames.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}
