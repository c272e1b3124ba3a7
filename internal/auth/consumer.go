package auth

import (
	"context"
	"log/slog"

	"github.com/agoracloud/agora/internal/events"
)

// Consumer revokes the tokens of deleted users.
type Consumer struct {
	tokens *TokenStore
	logger *slog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(tokens *TokenStore, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{tokens: tokens, logger: logger}
}

// Register subscribes the consumer on d.
func (c *Consumer) Register(d *events.Dispatcher) {
	d.Subscribe("auth."+string(events.UserDeleted), events.UserDeleted, c.HandleUserDeleted)
}

// HandleUserDeleted drops every live token of the user.
func (c *Consumer) HandleUserDeleted(ctx context.Context, env events.Envelope) error {
	var p events.UserDeletedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := c.tokens.RevokeUser(ctx, p.UserID); err != nil {
		return err
	}
	c.logger.Info("tokens revoked", slog.String("user_id", p.UserID))
	return nil
}
