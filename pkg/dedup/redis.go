package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduplicator marks keys with SET NX PX, which is atomic server-side
// and therefore safe across concurrent ingestion processes. Redis expires
// entries itself; there is no explicit deletion.
type RedisDeduplicator struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDeduplicator creates a Redis-backed deduplicator.
func NewRedisDeduplicator(client redis.Cmdable, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// CheckAndMark implements Deduplicator.
func (d *RedisDeduplicator) CheckAndMark(ctx context.Context, namespace, key string) (bool, error) {
	full := fmt.Sprintf("dedup:%s:%s", namespace, key)
	set, err := d.client.SetNX(ctx, full, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check-and-mark %s: %w", full, err)
	}
	// SETNX succeeded means this is the first sighting.
	return !set, nil
}
