package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a counter store backed by Redis, for deployments with more
// than one storefront instance sharing a limit.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced with the
// given prefix ("ratelimit" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// incrScript increments the counter and sets the expiry only on first
// increment, so the window is anchored at the first request.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// IncrementAndGet atomically increments the counter for the given key.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + ":" + key}, window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}

	current, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)
	ttl := time.Duration(ttlMs) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}

	return current, ttl, nil
}
