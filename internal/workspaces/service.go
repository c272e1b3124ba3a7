package workspaces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agoracloud/agora/internal/events"
	"github.com/agoracloud/agora/internal/platform/httpx"
)

// AdminLister reports which users hold the admin role in a workspace.
type AdminLister interface {
	WorkspaceAdmins(ctx context.Context, workspaceID string) ([]string, error)
}

// UserLookup resolves a user id from an email address. Unknown emails wrap
// httpx.ErrNotFound.
type UserLookup interface {
	LookupID(ctx context.Context, email string) (string, error)
}

// Service manages workspaces and publishes their lifecycle events.
type Service struct {
	repo      Repository
	admins    AdminLister
	users     UserLookup
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, admins AdminLister, users UserLookup, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, admins: admins, users: users, publisher: publisher, logger: logger}
}

// Create makes a workspace owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, name string) (*Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	ws := &Workspace{ID: uuid.NewString(), Name: name, Users: []string{ownerID}}
	if err := s.repo.Create(ctx, ws); err != nil {
		return nil, err
	}
	env, err := events.NewWorkspaceCreated(ws.ID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, env); err != nil {
		return nil, err
	}
	return ws, nil
}

// Get returns a workspace.
func (s *Service) Get(ctx context.Context, id string) (*Workspace, error) {
	return s.repo.Get(ctx, id)
}

// IsWorkspaceMember reports whether userID belongs to the workspace. A
// deleted workspace has no members.
func (s *Service) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	ws, err := s.repo.Get(ctx, workspaceID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ws.HasUser(userID), nil
}

// ListForUser returns the workspaces userID belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Workspace, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Rename changes the workspace name.
func (s *Service) Rename(ctx context.Context, id, name string) (*Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	if err := s.repo.Rename(ctx, id, name); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// AddUserByEmail adds the user registered under email. An unknown email
// leaves the workspace unchanged so membership requests do not reveal which
// addresses are registered.
func (s *Service) AddUserByEmail(ctx context.Context, workspaceID, email string) (*Workspace, error) {
	userID, err := s.users.LookupID(ctx, email)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return s.repo.Get(ctx, workspaceID)
		}
		return nil, err
	}
	return s.AddUser(ctx, workspaceID, userID)
}

// AddUser adds userID to the workspace.
func (s *Service) AddUser(ctx context.Context, workspaceID, userID string) (*Workspace, error) {
	ws, err := s.repo.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.HasUser(userID) {
		return nil, ErrExistingWorkspaceUser
	}
	if err := s.repo.AddUser(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	ws.Users = append(ws.Users, userID)
	env, err := events.NewWorkspaceUserAdded(workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, env); err != nil {
		return nil, err
	}
	return ws, nil
}

// RemoveUser removes userID from the workspace. The workspace must keep at
// least one member and at least one admin; both are checked before anything
// is written.
func (s *Service) RemoveUser(ctx context.Context, workspaceID, userID string) (*Workspace, error) {
	ws, err := s.repo.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !ws.HasUser(userID) {
		return nil, ErrUserNotMember
	}
	remaining := make([]string, 0, len(ws.Users))
	for _, u := range ws.Users {
		if u != userID {
			remaining = append(remaining, u)
		}
	}
	if len(remaining) == 0 {
		return nil, ErrMinOneUser
	}
	admins, err := s.admins.WorkspaceAdmins(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspaces: list admins: %w", err)
	}
	if !hasOtherAdmin(admins, userID) {
		return nil, ErrMinOneAdmin
	}
	if err := s.repo.RemoveUser(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	ws.Users = remaining
	env, err := events.NewWorkspaceUserRemoved(workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, env); err != nil {
		return nil, err
	}
	return ws, nil
}

// Delete removes the workspace.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	env, err := events.NewWorkspaceDeleted(id)
	if err != nil {
		return err
	}
	return s.publish(ctx, env)
}

func (s *Service) publish(ctx context.Context, env events.Envelope) error {
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.Error("publish workspace event",
			slog.String("event_type", string(env.Type)),
			slog.String("event_id", env.ID),
			slog.Any("error", err),
		)
		return fmt.Errorf("workspaces: publish %s: %w", env.Type, err)
	}
	return nil
}

func hasOtherAdmin(admins []string, userID string) bool {
	for _, a := range admins {
		if a != userID {
			return true
		}
	}
	return false
}
