// Package workspaces manages workspaces and their membership.
package workspaces

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

// Workspace groups users and their deployments.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasUser reports membership.
func (w *Workspace) HasUser(userID string) bool {
	return slices.Contains(w.Users, userID)
}

var (
	// ErrNotFound is returned for unknown workspaces.
	ErrNotFound = fmt.Errorf("%w: workspace", httpx.ErrNotFound)
	// ErrUserNotMember is returned when removing a user who is not a member.
	ErrUserNotMember = fmt.Errorf("%w: user is not a member of the workspace", httpx.ErrNotFound)
	// ErrExistingWorkspaceUser is returned when adding a member twice.
	ErrExistingWorkspaceUser = fmt.Errorf("%w: user is already a member of the workspace", httpx.ErrConflict)
	// ErrMinOneUser is returned when a removal would leave the workspace empty.
	ErrMinOneUser = fmt.Errorf("%w: workspace must keep at least one user", httpx.ErrConflict)
	// ErrMinOneAdmin is returned when a removal would leave the workspace without an admin.
	ErrMinOneAdmin = fmt.Errorf("%w: workspace must keep at least one admin", httpx.ErrConflict)
)

// Repository persists workspaces and membership.
type Repository interface {
	Create(ctx context.Context, ws *Workspace) error
	Get(ctx context.Context, id string) (*Workspace, error)
	ListByUser(ctx context.Context, userID string) ([]Workspace, error)
	Rename(ctx context.Context, id, name string) error
	AddUser(ctx context.Context, workspaceID, userID string) error
	RemoveUser(ctx context.Context, workspaceID, userID string) error
	Delete(ctx context.Context, id string) error
}
