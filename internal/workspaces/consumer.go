package workspaces

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agoracloud/agora/internal/events"
)

// Consumer cascades user deletions into workspace membership.
type Consumer struct {
	service *Service
	logger  *slog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(service *Service, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{service: service, logger: logger}
}

// Register subscribes the consumer's handlers on d.
func (c *Consumer) Register(d *events.Dispatcher) {
	d.Subscribe("workspaces."+string(events.UserDeleted), events.UserDeleted, c.HandleUserDeleted)
}

// HandleUserDeleted deletes every workspace the user was the only member of
// and drops the user from the rest.
func (c *Consumer) HandleUserDeleted(ctx context.Context, env events.Envelope) error {
	var payload events.UserDeletedPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	list, err := c.service.ListForUser(ctx, payload.UserID)
	if err != nil {
		return err
	}
	var errs []error
	for _, ws := range list {
		if len(ws.Users) <= 1 {
			err = c.service.Delete(ctx, ws.ID)
		} else {
			err = c.removeMember(ctx, ws.ID, payload.UserID)
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUserNotMember) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Consumer) removeMember(ctx context.Context, workspaceID, userID string) error {
	svc := c.service
	if err := svc.repo.RemoveUser(ctx, workspaceID, userID); err != nil {
		return err
	}
	c.logger.Info("removed deleted user from workspace", slog.String("workspace_id", workspaceID), slog.String("user_id", userID))
	env, err := events.NewWorkspaceUserRemoved(workspaceID, userID)
	if err != nil {
		return err
	}
	return svc.publish(ctx, env)
}
