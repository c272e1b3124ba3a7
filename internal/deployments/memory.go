package deployments

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process registry for development and tests.
type MemoryRegistry struct {
	mu          sync.RWMutex
	deployments map[string]Deployment
}

// NewMemoryRegistry constructs an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{deployments: map[string]Deployment{}}
}

// Put inserts or replaces a deployment.
func (m *MemoryRegistry) Put(d Deployment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	m.deployments[d.ID] = d
}

// Lookup loads a deployment by id.
func (m *MemoryRegistry) Lookup(ctx context.Context, id string) (*Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// MarkWorkspaceDeleting flags every deployment of a workspace for teardown.
func (m *MemoryRegistry) MarkWorkspaceDeleting(ctx context.Context, workspaceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.deployments {
		if d.WorkspaceID == workspaceID && d.Status != StatusDeleting {
			d.Status = StatusDeleting
			d.UpdatedAt = time.Now().UTC()
			m.deployments[id] = d
			n++
		}
	}
	return n, nil
}
