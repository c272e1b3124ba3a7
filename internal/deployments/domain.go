package deployments

import (
	"context"
	"fmt"
	"time"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

// Status is the lifecycle state reported by the orchestrator.
type Status string

// Deployment statuses.
const (
	StatusPending  Status = "Pending"
	StatusCreating Status = "Creating"
	StatusRunning  Status = "Running"
	StatusUpdating Status = "Updating"
	StatusDeleting Status = "Deleting"
	StatusFailed   Status = "Failed"
)

// ErrNotFound is returned for unknown deployments.
var ErrNotFound = fmt.Errorf("%w: deployment", httpx.ErrNotFound)

// Deployment is the proxy-relevant view of a deployment record.
type Deployment struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspaceId" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	Status      Status    `json:"status" db:"status"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Running reports whether the deployment accepts traffic.
func (d Deployment) Running() bool {
	return d.Status == StatusRunning
}

// Registry reads deployment records.
type Registry interface {
	Lookup(ctx context.Context, id string) (*Deployment, error)
}

// Writer changes deployment state.
type Writer interface {
	MarkWorkspaceDeleting(ctx context.Context, workspaceID string) (int64, error)
}
