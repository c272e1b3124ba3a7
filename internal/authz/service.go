package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const maxMutationAttempts = 5

// Service resolves access decisions and owns every write to the permission store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs a Service backed by store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// CheckAccess decides whether userID may perform every required action, either
// application-wide (workspaceID empty) or inside workspaceID.
func (s *Service) CheckAccess(ctx context.Context, userID string, required ActionSet, workspaceID string) (Decision, error) {
	doc, err := s.store.Find(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if doc.IsSuperAdmin() {
		return Decision{Granted: true, IsAdmin: true}, nil
	}
	if workspaceID == "" {
		return Decision{Granted: Effective(doc.Global.Actions()).Contains(required)}, nil
	}
	grant, ok := doc.Workspaces[workspaceID]
	if !ok {
		return Decision{}, fmt.Errorf("%w: user %s workspace %s", ErrUserNotInWorkspace, userID, workspaceID)
	}
	if grant.IsAdmin() {
		return Decision{Granted: true, IsAdmin: true}, nil
	}
	return Decision{Granted: Effective(grant.Actions()).Contains(required)}, nil
}

// Can is CheckAccess for route guards: a missing workspace entry is reported
// as ErrWorkspaceNotFound so the workspace stays invisible to non-members.
func (s *Service) Can(ctx context.Context, userID string, required ActionSet, workspaceID string) (Decision, error) {
	decision, err := s.CheckAccess(ctx, userID, required, workspaceID)
	if errors.Is(err, ErrUserNotInWorkspace) {
		return Decision{}, ErrWorkspaceNotFound
	}
	return decision, err
}

// Document returns the stored permission document for userID.
func (s *Service) Document(ctx context.Context, userID string) (*Document, error) {
	return s.store.Find(ctx, userID)
}

// WorkspaceGrant returns the user's grant inside workspaceID.
func (s *Service) WorkspaceGrant(ctx context.Context, userID, workspaceID string) (Grant, error) {
	doc, err := s.store.Find(ctx, userID)
	if err != nil {
		return Grant{}, err
	}
	grant, ok := doc.Workspaces[workspaceID]
	if !ok {
		return Grant{}, fmt.Errorf("%w: user %s workspace %s", ErrUserNotInWorkspace, userID, workspaceID)
	}
	return grant, nil
}

// WorkspaceAdmins lists users holding the workspace admin role in workspaceID.
func (s *Service) WorkspaceAdmins(ctx context.Context, workspaceID string) ([]string, error) {
	docs, err := s.store.FindByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var admins []string
	for _, doc := range docs {
		if doc.Workspaces[workspaceID].IsAdmin() {
			admins = append(admins, doc.UserID)
		}
	}
	return admins, nil
}

// CreateDocument creates the user's permission document. A nil action set for
// a regular user falls back to DefaultUserActions.
func (s *Service) CreateDocument(ctx context.Context, userID string, role Role, actions ActionSet) (*Document, error) {
	if role != RoleSuperAdmin && role != RoleUser {
		return nil, fmt.Errorf("authz: invalid global role %q", role)
	}
	if actions == nil && role == RoleUser {
		actions = NewActionSet(DefaultUserActions...)
	}
	doc := NewDocument(userID, GrantFor(role, actions))
	if err := s.store.Insert(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes the user's document.
func (s *Service) DeleteDocument(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

// SetGlobalPermissions replaces the user's application-wide grant.
func (s *Service) SetGlobalPermissions(ctx context.Context, userID string, role Role, actions ActionSet) (*Document, error) {
	if role != RoleSuperAdmin && role != RoleUser {
		return nil, fmt.Errorf("authz: invalid global role %q", role)
	}
	return s.mutate(ctx, userID, func(doc *Document) (bool, error) {
		doc.Global = GrantFor(role, actions)
		return true, nil
	})
}

// SetWorkspacePermissions replaces the user's grant inside an existing membership.
func (s *Service) SetWorkspacePermissions(ctx context.Context, userID, workspaceID string, role Role, actions ActionSet) (Grant, error) {
	if role != RoleWorkspaceAdmin && role != RoleUser {
		return Grant{}, fmt.Errorf("authz: invalid workspace role %q", role)
	}
	grant := GrantFor(role, actions)
	_, err := s.mutate(ctx, userID, func(doc *Document) (bool, error) {
		if _, ok := doc.Workspaces[workspaceID]; !ok {
			return false, fmt.Errorf("%w: user %s workspace %s", ErrUserNotInWorkspace, userID, workspaceID)
		}
		doc.Workspaces[workspaceID] = grant
		return true, nil
	})
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// AddWorkspaceEntry upserts the user's grant for workspaceID.
func (s *Service) AddWorkspaceEntry(ctx context.Context, userID, workspaceID string, grant Grant) error {
	_, err := s.mutate(ctx, userID, func(doc *Document) (bool, error) {
		doc.Workspaces[workspaceID] = grant
		return true, nil
	})
	return err
}

// RemoveWorkspaceEntry deletes the user's entry for workspaceID. Removing an
// absent entry is a no-op.
func (s *Service) RemoveWorkspaceEntry(ctx context.Context, userID, workspaceID string) error {
	_, err := s.mutate(ctx, userID, func(doc *Document) (bool, error) {
		if _, ok := doc.Workspaces[workspaceID]; !ok {
			return false, nil
		}
		delete(doc.Workspaces, workspaceID)
		return true, nil
	})
	return err
}

// RemoveAllWorkspaceEntries drops workspaceID from every document holding it.
// Documents deleted concurrently are skipped.
func (s *Service) RemoveAllWorkspaceEntries(ctx context.Context, workspaceID string) error {
	docs, err := s.store.FindByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	var errs []error
	for _, doc := range docs {
		err := s.RemoveWorkspaceEntry(ctx, doc.UserID, workspaceID)
		if err == nil || errors.Is(err, ErrPermissionsNotFound) {
			continue
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// mutate applies fn to a fresh copy of the document and writes it back,
// retrying when another writer got there first. fn returns false to skip the write.
func (s *Service) mutate(ctx context.Context, userID string, fn func(*Document) (bool, error)) (*Document, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		doc, err := s.store.Find(ctx, userID)
		if err != nil {
			return nil, err
		}
		changed, err := fn(doc)
		if err != nil {
			return nil, err
		}
		if !changed {
			return doc, nil
		}
		err = s.store.Update(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("authz document conflict, retrying", slog.String("user_id", userID), slog.Int("attempt", attempt+1))
	}
	return nil, lastErr
}
