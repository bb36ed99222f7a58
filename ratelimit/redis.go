package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript counts a hit in the window hash at KEYS[1]. A window starts on
// the first hit, or the first after its reset instant, and stores that
// instant so every later hit in the window reports the same ResetAt.
// Running it server-side keeps read-check-increment atomic across instances.
//
// ARGV[1] is now and ARGV[2] the window, both in milliseconds.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if reset == nil or now > reset then
  reset = now + tonumber(ARGV[2])
  redis.call('HSET', KEYS[1], 'count', 0, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset}
`)

// RedisStore shares windows between every instance pointed at the same Redis.
// Expired windows are dropped by key TTLs, so no sweep is needed. Reset
// instants have millisecond precision.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore builds a store; keys are namespaced by prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("ratelimit: redis hit: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("ratelimit: redis hit: unexpected reply %v", res)
	}
	return Window{
		Count:   int(res[0]),
		ResetAt: time.UnixMilli(res[1]).In(now.Location()),
	}, nil
}
