package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by a shared Redis instance, for
// deployments running more than one storefront process. The window lives
// as a key TTL, so no sweep is needed: Redis reclaims expired counters
// on its own.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a counter store on the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr implements CounterStore with INCR + EXPIRE NX in one pipeline.
// EXPIRE NX only arms the TTL when the key has none, which pins the window
// start to the first request rather than refreshing it on every hit.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("incrementing rate limit counter: %w", err)
	}

	count := int(incr.Val())

	// PTTL can report -1 if the key somehow has no TTL (e.g. EXPIRE raced
	// a manual DEL). Fall back to a full window so the deny path still
	// reports a sane retry hint.
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}

	return count, time.Now().Add(remaining), nil
}
