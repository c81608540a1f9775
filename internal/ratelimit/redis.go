package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptScript performs the window reset, increment and lockout transition
// atomically. Returns {allowed, remaining, retry_after_ms}.
var attemptScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local lockout = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'count', 'start', 'locked')
local count = tonumber(state[1]) or 0
local start = tonumber(state[2]) or now
local locked = tonumber(state[3]) or 0

if now < locked then
  return {0, 0, locked - now}
end

if now - start > window then
  count = 0
  start = now
end
count = count + 1

local allowed, remaining, retry = 1, max - count, 0
if count > max then
  allowed = 0
  remaining = 0
  if lockout > 0 then
    locked = now + lockout
    retry = lockout
  else
    retry = start + window - now
  end
end

redis.call('HSET', KEYS[1], 'count', count, 'start', start, 'locked', locked)
local ttl = start + window - now
if locked - now > ttl then
  ttl = locked - now
end
redis.call('PEXPIRE', KEYS[1], ttl + 1000)
return {allowed, remaining, retry}
`)

// statusScript reads bucket state without recording an attempt.
var statusScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local lockout = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'count', 'start', 'locked')
if not state[2] then
  return {1, max, 0}
end
local count = tonumber(state[1]) or 0
local start = tonumber(state[2])
local locked = tonumber(state[3]) or 0

if now < locked then
  return {0, 0, locked - now}
end
if now - start > window then
  return {1, max, 0}
end
if count >= max and lockout == 0 then
  return {0, 0, start + window - now}
end
local remaining = max - count
if remaining < 0 then
  remaining = 0
end
return {1, remaining, 0}
`)

// RedisStore keeps buckets in Redis hashes so that every replica spends the same budget.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store using client. Keys are namespaced under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, key string, p Policy) (Result, error) {
	args := []any{
		s.now().UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxAttempts,
		p.Lockout.Milliseconds(),
	}
	vals, err := script.Run(ctx, s.client, []string{s.key(key)}, args...).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("redis rate limit script: unexpected reply length %d", len(vals))
	}
	return Result{
		Allowed:    vals[0] == 1,
		Remaining:  int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Attempt implements Store.
func (s *RedisStore) Attempt(ctx context.Context, key string, p Policy) (Result, error) {
	return s.run(ctx, attemptScript, key, p)
}

// Status implements Store.
func (s *RedisStore) Status(ctx context.Context, key string, p Policy) (Result, error) {
	return s.run(ctx, statusScript, key, p)
}

// Reset implements Store. client must also implement redis.Cmdable.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	c, ok := s.client.(redis.Cmdable)
	if !ok {
		return fmt.Errorf("redis client %T does not support DEL", s.client)
	}
	return c.Del(ctx, s.key(key)).Err()
}
