// redis.go -- fixed-window table shared across instances through Redis.
//
// Each key is a hash {count, reset}; reset is epoch milliseconds. Both scripts run
// atomically inside Redis, so concurrent requests on any instance never lose updates.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "quill:rl:"

// takeScript opens a window if none is active, then consumes one unit if under max.
// KEYS[1] = window key; ARGV[1] = window ms, ARGV[2] = max, ARGV[3] = now ms.
// Returns {allowed (0|1), count, reset ms}.
var takeScript = redis.NewScript(`
local now = tonumber(ARGV[3])
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if not reset or now >= reset then
    reset = now + tonumber(ARGV[1])
    redis.call('DEL', KEYS[1])
    redis.call('HSET', KEYS[1], 'count', 0, 'reset', reset)
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count >= tonumber(ARGV[2]) then
    return {0, count, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// refundScript decrements count, floored at zero, only inside the window that reset at ARGV[1].
// KEYS[1] = window key; ARGV[1] = reset ms.
var refundScript = redis.NewScript(`
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if not reset or reset ~= tonumber(ARGV[1]) then
    return 0
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count and count > 0 then
    redis.call('HINCRBY', KEYS[1], 'count', -1)
    return 1
end
return 0
`)

// RedisLimiter implements Limiter on a shared Redis.
// Windows expire through PEXPIRE, so no sweeping is needed.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisLimiter returns a limiter storing windows under DefaultRedisPrefix.
func NewRedisLimiter(rdb redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: DefaultRedisPrefix}
}

// Take implements Limiter.
func (l *RedisLimiter) Take(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	res, err := takeScript.Run(ctx, l.rdb, []string{l.prefix + key},
		policy.Window.Milliseconds(), policy.Max, now.UnixMilli()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return decide(res[0] == 1, int(res[1]), policy, time.UnixMilli(res[2]), now), nil
}

// Refund implements Limiter.
func (l *RedisLimiter) Refund(ctx context.Context, key string, resetAt time.Time) error {
	err := refundScript.Run(ctx, l.rdb, []string{l.prefix + key}, resetAt.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("running rate limit refund script: %w", err)
	}
	return nil
}
