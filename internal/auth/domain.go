package auth

import (
	"fmt"
	"time"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

// User represents a registered account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrEmailTaken indicates the email is already registered.
var ErrEmailTaken = fmt.Errorf("%w: email already registered", httpx.ErrConflict)
