package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// windowScript counts a request and makes sure the window key expires. Both
// happen in one step, so a key can never be left without a TTL.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// DistributedRateLimiter is a fixed-window limiter shared by every instance
// through Redis
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "gatekeeper:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter's configuration
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow counts the request against key's current window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	window := rl.config.WindowDuration.Milliseconds()
	if window < 1 {
		window = 1
	}

	result, err := windowScript.Run(ctx, rl.redis, []string{rl.key(key)}, window).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("redis error: unexpected reply %v", result)
	}
	count, ok1 := result[0].(int64)
	ttl, ok2 := result[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("redis error: unexpected reply %v", result)
	}

	limit := int64(rl.config.RequestsPerWindow + rl.config.BurstSize)
	if count <= limit {
		return Decision{Allowed: true, Remaining: int(limit - count)}, nil
	}
	return Decision{RetryAfter: time.Duration(ttl) * time.Millisecond}, nil
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}
