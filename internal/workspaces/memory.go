package workspaces

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{workspaces: map[string]*Workspace{}}
}

func clone(ws *Workspace) *Workspace {
	out := *ws
	out.Users = slices.Clone(ws.Users)
	return &out
}

// Create stores ws.
func (m *MemoryRepository) Create(ctx context.Context, ws *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	ws.CreatedAt, ws.UpdatedAt = now, now
	m.workspaces[ws.ID] = clone(ws)
	return nil
}

// Get returns a copy of the workspace.
func (m *MemoryRepository) Get(ctx context.Context, id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(ws), nil
}

// ListByUser returns the workspaces userID belongs to, oldest first.
func (m *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Workspace
	for _, ws := range m.workspaces {
		if ws.HasUser(userID) {
			out = append(out, *clone(ws))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Rename updates the display name.
func (m *MemoryRepository) Rename(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return ErrNotFound
	}
	ws.Name = name
	ws.UpdatedAt = time.Now().UTC()
	return nil
}

// AddUser appends a member.
func (m *MemoryRepository) AddUser(ctx context.Context, workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	if ws.HasUser(userID) {
		return ErrExistingWorkspaceUser
	}
	ws.Users = append(ws.Users, userID)
	return nil
}

// RemoveUser drops a member.
func (m *MemoryRepository) RemoveUser(ctx context.Context, workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	idx := slices.Index(ws.Users, userID)
	if idx < 0 {
		return ErrUserNotMember
	}
	ws.Users = slices.Delete(ws.Users, idx, idx+1)
	return nil
}

// Delete removes the workspace.
func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return ErrNotFound
	}
	delete(m.workspaces, id)
	return nil
}
