package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agoracloud/agora/internal/events"
)

// UserDirectory reports whether a user is still registered.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// MemberDirectory reports whether a user still belongs to a workspace.
type MemberDirectory interface {
	IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Consumer keeps permission documents in step with user and workspace
// lifecycle events.
//
// Events keyed by different ids are not ordered against each other, so a
// grant can arrive after the deletion that should have removed it. With
// directories set, every grant is checked against them before and after the
// write and taken back when the user or membership is gone.
type Consumer struct {
	service *Service
	logger  *slog.Logger
	users   UserDirectory
	members MemberDirectory
}

// NewConsumer constructs a Consumer.
func NewConsumer(service *Service, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{service: service, logger: logger}
}

// WithDirectory sets the lookups grants are verified against. Without them
// events are applied as delivered.
func (c *Consumer) WithDirectory(users UserDirectory, members MemberDirectory) *Consumer {
	c.users = users
	c.members = members
	return c
}

// Register subscribes the consumer's handlers on d.
func (c *Consumer) Register(d *events.Dispatcher) {
	d.Subscribe("authz."+string(events.UserCreated), events.UserCreated, c.HandleUserCreated)
	d.Subscribe("authz."+string(events.UserDeleted), events.UserDeleted, c.HandleUserDeleted)
	d.Subscribe("authz."+string(events.WorkspaceCreated), events.WorkspaceCreated, c.HandleWorkspaceCreated)
	d.Subscribe("authz."+string(events.WorkspaceUserAdded), events.WorkspaceUserAdded, c.HandleWorkspaceUserAdded)
	d.Subscribe("authz."+string(events.WorkspaceUserRemoved), events.WorkspaceUserRemoved, c.HandleWorkspaceUserRemoved)
	d.Subscribe("authz."+string(events.WorkspaceDeleted), events.WorkspaceDeleted, c.HandleWorkspaceDeleted)
}

// HandleUserCreated creates the new user's document. A redelivered event
// finding the document already present is treated as done. A document created
// for a user deleted in the meantime is removed again.
func (c *Consumer) HandleUserCreated(ctx context.Context, env events.Envelope) error {
	var payload events.UserCreatedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	role, err := ParseGlobalRole(payload.Role)
	if err != nil {
		return events.Permanent(err)
	}
	exists, err := c.userExists(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if !exists {
		return c.dropDocument(ctx, payload.UserID)
	}
	_, err = c.service.CreateDocument(ctx, payload.UserID, role, nil)
	switch {
	case errors.Is(err, ErrDocumentExists):
		c.logger.Debug("permission document already exists", slog.String("user_id", payload.UserID))
	case err != nil:
		return err
	}
	if exists, err = c.userExists(ctx, payload.UserID); err != nil || exists {
		return err
	}
	return c.dropDocument(ctx, payload.UserID)
}

// HandleUserDeleted deletes the user's document.
func (c *Consumer) HandleUserDeleted(ctx context.Context, env events.Envelope) error {
	var payload events.UserDeletedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	return c.service.DeleteDocument(ctx, payload.UserID)
}

// HandleWorkspaceCreated makes the owner an admin of the new workspace.
func (c *Consumer) HandleWorkspaceCreated(ctx context.Context, env events.Envelope) error {
	var payload events.WorkspaceCreatedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	if err := c.grant(ctx, payload.OwnerID, payload.WorkspaceID, AdminGrant(RoleWorkspaceAdmin)); err != nil {
		return fmt.Errorf("authz: grant owner of %s: %w", payload.WorkspaceID, err)
	}
	return nil
}

// HandleWorkspaceUserAdded gives a new member the default workspace actions.
// Super admins already hold every action and get no entry.
func (c *Consumer) HandleWorkspaceUserAdded(ctx context.Context, env events.Envelope) error {
	var payload events.WorkspaceUserPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	doc, err := c.service.Document(ctx, payload.UserID)
	if errors.Is(err, ErrPermissionsNotFound) {
		exists, lookupErr := c.userExists(ctx, payload.UserID)
		if lookupErr == nil && !exists {
			c.logger.Debug("skip grant for deleted user", slog.String("user_id", payload.UserID))
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("authz: load member %s: %w", payload.UserID, err)
	}
	if doc.IsSuperAdmin() {
		return nil
	}
	grant := ExplicitGrant(NewActionSet(DefaultInWorkspaceActions...))
	if err := c.grant(ctx, payload.UserID, payload.WorkspaceID, grant); err != nil {
		return fmt.Errorf("authz: grant member of %s: %w", payload.WorkspaceID, err)
	}
	return nil
}

// grant writes the workspace entry while userID is a member. The membership
// is read again after the write: a deletion that slipped in between has
// already run its cleanup, so the entry is removed here instead.
func (c *Consumer) grant(ctx context.Context, userID, workspaceID string, g Grant) error {
	member, err := c.isMember(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if member {
		if err := c.service.AddWorkspaceEntry(ctx, userID, workspaceID, g); err != nil {
			return err
		}
		if member, err = c.isMember(ctx, workspaceID, userID); err != nil || member {
			return err
		}
	}
	c.logger.Info("membership gone, dropping workspace entry",
		slog.String("user_id", userID),
		slog.String("workspace_id", workspaceID),
	)
	err = c.service.RemoveWorkspaceEntry(ctx, userID, workspaceID)
	if errors.Is(err, ErrPermissionsNotFound) {
		return nil
	}
	return err
}

func (c *Consumer) userExists(ctx context.Context, userID string) (bool, error) {
	if c.users == nil {
		return true, nil
	}
	exists, err := c.users.UserExists(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("authz: look up user %s: %w", userID, err)
	}
	return exists, nil
}

func (c *Consumer) isMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	if c.members == nil {
		return true, nil
	}
	member, err := c.members.IsWorkspaceMember(ctx, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("authz: look up membership of %s in %s: %w", userID, workspaceID, err)
	}
	return member, nil
}

func (c *Consumer) dropDocument(ctx context.Context, userID string) error {
	c.logger.Info("user gone, dropping permission document", slog.String("user_id", userID))
	err := c.service.DeleteDocument(ctx, userID)
	if errors.Is(err, ErrPermissionsNotFound) {
		return nil
	}
	return err
}

// HandleWorkspaceUserRemoved drops the member's entry. A document deleted in
// the meantime already satisfies the removal.
func (c *Consumer) HandleWorkspaceUserRemoved(ctx context.Context, env events.Envelope) error {
	var payload events.WorkspaceUserPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	err := c.service.RemoveWorkspaceEntry(ctx, payload.UserID, payload.WorkspaceID)
	if errors.Is(err, ErrPermissionsNotFound) {
		return nil
	}
	return err
}

// HandleWorkspaceDeleted removes the workspace from every document.
func (c *Consumer) HandleWorkspaceDeleted(ctx context.Context, env events.Envelope) error {
	var payload events.WorkspaceDeletedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	return c.service.RemoveAllWorkspaceEntries(ctx, payload.WorkspaceID)
}
