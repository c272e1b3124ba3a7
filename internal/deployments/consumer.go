package deployments

import (
	"context"
	"log/slog"

	"github.com/agoracloud/agora/internal/events"
)

// Consumer stops routing to deployments of deleted workspaces.
type Consumer struct {
	writer Writer
	logger *slog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(writer Writer, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{writer: writer, logger: logger}
}

// Register subscribes the consumer on d.
func (c *Consumer) Register(d *events.Dispatcher) {
	d.Subscribe("deployments."+string(events.WorkspaceDeleted), events.WorkspaceDeleted, c.HandleWorkspaceDeleted)
}

// HandleWorkspaceDeleted marks the workspace's deployments as Deleting so the
// proxy refuses them before the orchestrator tears them down.
func (c *Consumer) HandleWorkspaceDeleted(ctx context.Context, env events.Envelope) error {
	var p events.WorkspaceDeletedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	n, err := c.writer.MarkWorkspaceDeleting(ctx, p.WorkspaceID)
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.Info("deployments marked deleting", slog.String("workspace_id", p.WorkspaceID), slog.Int64("count", n))
	}
	return nil
}
