package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndConsumeScript applies the window rule atomically server-side.
// Times travel as unix milliseconds so the caller's (possibly simulated)
// clock stays authoritative; redis never consults its own clock for the
// window decision.
var checkAndConsumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local v = redis.call("HMGET", KEYS[1], "count", "reset")
local count = tonumber(v[1])
local reset = tonumber(v[2])

if (not count) or (now > reset) then
  reset = now + windowMs
  redis.call("HSET", KEYS[1], "count", 1, "reset", reset)
  redis.call("PEXPIRE", KEYS[1], windowMs * 2)
  return {1, 1, reset}
end
if count < limit then
  redis.call("HSET", KEYS[1], "count", count + 1)
  return {1, count + 1, reset}
end
return {0, count, reset}
`)

// RedisStore keeps window records in redis, one hash per key. It backs the
// image quota so that the two gates can run on separate infrastructure.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore using the given connection settings.
// prefix namespaces the keys (defaults to "gateway:quota").
func NewRedisStore(addr, password, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gateway:quota"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}
}

func (s *RedisStore) key(key int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, key)
}

// CheckAndConsume implements Store.
func (s *RedisStore) CheckAndConsume(ctx context.Context, key int64, now time.Time, limit int, window time.Duration) (bool, error) {
	res, err := checkAndConsumeScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return false, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return res[0] == 1, nil
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, key int64) (Window, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "count", "reset").Result()
	if err != nil {
		return Window{}, false, fmt.Errorf("rate limit peek: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return Window{}, false, nil
	}
	count, err := strconv.Atoi(vals[0].(string))
	if err != nil {
		return Window{}, false, fmt.Errorf("rate limit peek: bad count: %w", err)
	}
	resetMs, err := strconv.ParseInt(vals[1].(string), 10, 64)
	if err != nil {
		return Window{}, false, fmt.Errorf("rate limit peek: bad reset: %w", err)
	}
	return Window{Count: count, ResetAt: time.UnixMilli(resetMs)}, true, nil
}

// Close releases the underlying redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
