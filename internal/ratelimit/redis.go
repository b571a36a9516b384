package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript increments the window counter, starting the window's expiry
// on the first admission. It returns the count and the remaining window
// in milliseconds.
var takeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps windows in redis so tills sharing one store token share
// one quota. Window expiry follows the redis clock.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store using keys under prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pos:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Take implements WindowStore.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, length time.Duration, now time.Time) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, length.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis window: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis window: unexpected reply %v", res)
	}
	count := int(res[0])
	return Decision{
		Allowed: count <= limit,
		Count:   min(count, limit),
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
