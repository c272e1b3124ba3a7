package authz

import (
	"errors"
	"fmt"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

var (
	// ErrPermissionsNotFound means a user has no permission document. Every
	// user must have one, so callers treat this as an internal fault.
	ErrPermissionsNotFound = errors.New("authz: permissions not found")
	// ErrUserNotInWorkspace means the document has no entry for the workspace.
	ErrUserNotInWorkspace = errors.New("authz: user not in workspace")
	// ErrWorkspaceNotFound is the route-guard form of ErrUserNotInWorkspace.
	ErrWorkspaceNotFound = fmt.Errorf("%w: workspace", httpx.ErrNotFound)
	// ErrVersionConflict is returned by stores when a document changed since it was read.
	ErrVersionConflict = fmt.Errorf("%w: permission document changed concurrently", httpx.ErrConflict)
	// ErrSuperAdminRequired is returned when a caller without the super admin
	// role grants it or changes the account of someone holding it.
	ErrSuperAdminRequired = fmt.Errorf("%w: super admin role required", httpx.ErrForbidden)
	// ErrDocumentExists is returned when creating a document twice.
	ErrDocumentExists = errors.New("authz: document already exists")
)
