// Package cache connects to the Redis instance shared by tokens, event
// dedup markers and the asynq queues.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config locates the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Redis client and verifies the connection.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: "agora",
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s db %d: %w", cfg.Addr, cfg.DB, err)
	}
	return client, nil
}
