package authz

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Action is a fine-grained permission tag checked by route guards.
type Action string

// Application and workspace actions.
const (
	CreateWorkspace Action = "workspaces:create"
	ReadWorkspace   Action = "workspaces:read"
	UpdateWorkspace Action = "workspaces:update"
	DeleteWorkspace Action = "workspaces:delete"

	CreateDeployment Action = "deployments:create"
	ReadDeployment   Action = "deployments:read"
	UpdateDeployment Action = "deployments:update"
	DeleteDeployment Action = "deployments:delete"
	ProxyDeployment  Action = "deployments:proxy"

	CreateWiki Action = "wiki:create"
	ReadWiki   Action = "wiki:read"
	UpdateWiki Action = "wiki:update"
	DeleteWiki Action = "wiki:delete"

	CreateWikiSection Action = "wiki_sections:create"
	ReadWikiSection   Action = "wiki_sections:read"
	UpdateWikiSection Action = "wiki_sections:update"
	DeleteWikiSection Action = "wiki_sections:delete"

	CreateWikiPage Action = "wiki_pages:create"
	ReadWikiPage   Action = "wiki_pages:read"
	UpdateWikiPage Action = "wiki_pages:update"
	DeleteWikiPage Action = "wiki_pages:delete"

	CreateProject Action = "projects:create"
	ReadProject   Action = "projects:read"
	UpdateProject Action = "projects:update"
	DeleteProject Action = "projects:delete"

	CreateProjectLane Action = "project_lanes:create"
	ReadProjectLane   Action = "project_lanes:read"
	UpdateProjectLane Action = "project_lanes:update"
	DeleteProjectLane Action = "project_lanes:delete"

	CreateProjectTask Action = "project_tasks:create"
	ReadProjectTask   Action = "project_tasks:read"
	UpdateProjectTask Action = "project_tasks:update"
	DeleteProjectTask Action = "project_tasks:delete"

	ManageUsers  Action = "users:manage"
	ReadAuditLog Action = "audit:read"
)

var knownActions = map[Action]struct{}{}

func init() {
	for _, a := range []Action{
		CreateWorkspace, ReadWorkspace, UpdateWorkspace, DeleteWorkspace,
		CreateDeployment, ReadDeployment, UpdateDeployment, DeleteDeployment, ProxyDeployment,
		CreateWiki, ReadWiki, UpdateWiki, DeleteWiki,
		CreateWikiSection, ReadWikiSection, UpdateWikiSection, DeleteWikiSection,
		CreateWikiPage, ReadWikiPage, UpdateWikiPage, DeleteWikiPage,
		CreateProject, ReadProject, UpdateProject, DeleteProject,
		CreateProjectLane, ReadProjectLane, UpdateProjectLane, DeleteProjectLane,
		CreateProjectTask, ReadProjectTask, UpdateProjectTask, DeleteProjectTask,
		ManageUsers, ReadAuditLog,
	} {
		knownActions[a] = struct{}{}
	}
}

// Valid reports whether a belongs to the closed action set.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// ParseAction converts raw input into a known Action.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if !a.Valid() {
		return "", fmt.Errorf("authz: unknown action %q", raw)
	}
	return a, nil
}

// DefaultUserActions is granted application-wide to newly registered users.
var DefaultUserActions = []Action{CreateWorkspace, ReadWorkspace}

// DefaultInWorkspaceActions is granted to users added to an existing workspace.
var DefaultInWorkspaceActions = []Action{
	ReadWorkspace,
	CreateDeployment, ReadDeployment, UpdateDeployment, DeleteDeployment, ProxyDeployment,
	CreateWiki, ReadWiki, UpdateWiki, DeleteWiki,
	CreateProject, ReadProject, UpdateProject, DeleteProject,
	CreateProjectLane, ReadProjectLane, UpdateProjectLane, DeleteProjectLane,
	CreateProjectTask, ReadProjectTask, UpdateProjectTask, DeleteProjectTask,
}

// implications maps a coarse action to the fine-grained actions it grants.
var implications = map[Action][]Action{
	CreateWiki: {CreateWikiSection, CreateWikiPage},
	ReadWiki:   {ReadWikiSection, ReadWikiPage},
	UpdateWiki: {UpdateWikiSection, UpdateWikiPage},
	DeleteWiki: {DeleteWikiSection, DeleteWikiPage},
}

// ActionSet is an unordered set of actions.
type ActionSet map[Action]struct{}

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Clone returns an independent copy.
func (s ActionSet) Clone() ActionSet {
	out := make(ActionSet, len(s))
	for a := range s {
		out[a] = struct{}{}
	}
	return out
}

// Slice returns the actions sorted for stable output.
func (s ActionSet) Slice() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Contains reports whether every required action is in s. An empty
// requirement or an empty s is never satisfied.
func (s ActionSet) Contains(required ActionSet) bool {
	if len(s) == 0 || len(required) == 0 {
		return false
	}
	for a := range required {
		if !s.Has(a) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array, dropping unknown actions.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var raw []Action
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(ActionSet, len(raw))
	for _, a := range raw {
		if a.Valid() {
			set[a] = struct{}{}
		}
	}
	*s = set
	return nil
}

// Effective expands coarse actions into the fine-grained actions they imply.
// The input is left untouched.
func Effective(granted ActionSet) ActionSet {
	out := granted.Clone()
	for a := range granted {
		for _, implied := range implications[a] {
			out[implied] = struct{}{}
		}
	}
	return out
}
