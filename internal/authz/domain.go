package authz

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role names a coarse grant level.
type Role string

const (
	// RoleSuperAdmin may perform every action application-wide and in every workspace.
	RoleSuperAdmin Role = "SuperAdmin"
	// RoleWorkspaceAdmin may perform every action inside one workspace.
	RoleWorkspaceAdmin Role = "WorkspaceAdmin"
	// RoleUser is limited to the explicitly granted actions.
	RoleUser Role = "User"
)

// ParseGlobalRole validates a role usable at application scope.
func ParseGlobalRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleSuperAdmin, RoleUser:
		return Role(raw), nil
	}
	return "", fmt.Errorf("authz: invalid global role %q", raw)
}

// ParseWorkspaceRole validates a role usable at workspace scope.
func ParseWorkspaceRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleWorkspaceAdmin, RoleUser:
		return Role(raw), nil
	}
	return "", fmt.Errorf("authz: invalid workspace role %q", raw)
}

// Grant is either an admin role, which implies every action in its scope,
// or an explicit set of actions. Admin grants never carry actions.
type Grant struct {
	role    Role
	actions ActionSet
}

// AdminGrant returns an admin grant for the given admin role.
func AdminGrant(role Role) Grant {
	return Grant{role: role}
}

// ExplicitGrant returns a non-admin grant limited to the given actions.
func ExplicitGrant(actions ActionSet) Grant {
	if actions == nil {
		actions = ActionSet{}
	}
	return Grant{role: RoleUser, actions: actions.Clone()}
}

// GrantFor builds the grant for role, clearing actions when role is an admin role.
func GrantFor(role Role, actions ActionSet) Grant {
	if role == RoleSuperAdmin || role == RoleWorkspaceAdmin {
		return AdminGrant(role)
	}
	return ExplicitGrant(actions)
}

// Role returns the grant's role.
func (g Grant) Role() Role {
	if g.role == "" {
		return RoleUser
	}
	return g.role
}

// IsAdmin reports whether the grant short-circuits action checks.
func (g Grant) IsAdmin() bool {
	return g.role == RoleSuperAdmin || g.role == RoleWorkspaceAdmin
}

// Actions returns a copy of the explicit actions; nil for admin grants.
func (g Grant) Actions() ActionSet {
	if g.IsAdmin() {
		return nil
	}
	return g.actions.Clone()
}

type grantJSON struct {
	Role        Role      `json:"role"`
	Permissions ActionSet `json:"permissions,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (g Grant) MarshalJSON() ([]byte, error) {
	out := grantJSON{Role: g.Role()}
	if !g.IsAdmin() {
		out.Permissions = g.actions
		if out.Permissions == nil {
			out.Permissions = ActionSet{}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Grant) UnmarshalJSON(data []byte) error {
	var in grantJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*g = GrantFor(in.Role, in.Permissions)
	return nil
}

// Document is the denormalised per-user permission record.
type Document struct {
	UserID     string           `json:"userId"`
	Global     Grant            `json:"global"`
	Workspaces map[string]Grant `json:"workspaces"`
	Version    int64            `json:"-"`
	UpdatedAt  time.Time        `json:"-"`
}

// NewDocument returns a document with an empty workspace map.
func NewDocument(userID string, global Grant) *Document {
	return &Document{UserID: userID, Global: global, Workspaces: map[string]Grant{}}
}

// IsSuperAdmin reports whether the user holds the global admin role.
func (d *Document) IsSuperAdmin() bool {
	return d.Global.Role() == RoleSuperAdmin
}

// Clone returns a deep copy so callers can mutate freely.
func (d *Document) Clone() *Document {
	out := *d
	out.Workspaces = make(map[string]Grant, len(d.Workspaces))
	for id, g := range d.Workspaces {
		out.Workspaces[id] = GrantFor(g.Role(), g.actions)
	}
	out.Global = GrantFor(d.Global.Role(), d.Global.actions)
	return &out
}

// Decision is the outcome of an access check.
type Decision struct {
	Granted bool
	IsAdmin bool
}
