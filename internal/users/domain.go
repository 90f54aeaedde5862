package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicateToken indicates another user already owns the external token.
	ErrDuplicateToken = errors.New("users: external token already linked")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("users: invalid input")
)

// User is an account linked to the external identity provider.
type User struct {
	ID            int64     `json:"id"`
	ExternalToken string    `json:"external_token"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProvisionInput describes a user seen on a successful external authentication.
type ProvisionInput struct {
	ExternalToken string `validate:"required,max=255"`
	Name          string `validate:"max=200"`
}
