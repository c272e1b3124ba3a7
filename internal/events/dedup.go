package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which (subscription, envelope) pairs completed so that
// redelivery does not re-apply a handler.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// NopDeduper never remembers anything.
type NopDeduper struct{}

// Seen always reports false.
func (NopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }

// Mark does nothing.
func (NopDeduper) Mark(context.Context, string) error { return nil }

// RedisDeduper stores markers in Redis with a retention TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper constructs a RedisDeduper.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// Seen reports whether key was marked.
func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records key.
func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	return d.client.SetNX(ctx, key, 1, d.ttl).Err()
}
