package users

import (
	"context"
	"fmt"
	"time"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

// User represents a user account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var (
	// ErrNotFound is returned for unknown users.
	ErrNotFound = fmt.Errorf("%w: user", httpx.ErrNotFound)
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Delete(ctx context.Context, id string) error
}
