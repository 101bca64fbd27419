package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements distributed rate limiting using Redis sorted
// sets with a sliding window, so the per-destination limit holds across all
// relay instances. Falls back to per-process limiting when Redis is down.
type RedisRateLimiter struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	fallback *LocalRateLimiter
	logger   *slog.Logger
}

// RedisRateLimiterConfig holds configuration for the Redis rate limiter.
//
// Limit is the number of calls allowed per destination per Window.
type RedisRateLimiterConfig struct {
	Limit  int
	Window time.Duration
}

func DefaultRedisRateLimiterConfig() RedisRateLimiterConfig {
	return RedisRateLimiterConfig{
		Limit:  10,
		Window: time.Second,
	}
}

func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig, logger *slog.Logger) *RedisRateLimiter {
	if config.Limit == 0 {
		config.Limit = 10
	}
	if config.Window == 0 {
		config.Window = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisRateLimiter{
		client:   client,
		limit:    config.Limit,
		window:   config.Window,
		fallback: NewLocalRateLimiter(DefaultRateLimiterConfig()),
		logger:   logger,
	}
}

// rateLimitScript atomically trims the window, counts entries, and admits or
// rejects the call. Returns 1 if allowed, 0 if rate limited.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return 1
else
    return 0
end
`)

// Allow implements RateLimiter.
func (r *RedisRateLimiter) Allow(ctx context.Context, webhookID string) (bool, error) {
	key := fmt.Sprintf("gutenberg:ratelimit:%s", webhookID)
	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%1000000)

	result, err := rateLimitScript.Run(ctx, r.client, []string{key}, now, r.window.Milliseconds(), r.limit, member).Int()
	if err != nil {
		r.logger.Warn("redis rate limiter failed, using fallback",
			"error", err,
			"webhook_id", webhookID,
		)
		return r.fallback.Allow(ctx, webhookID)
	}

	return result == 1, nil
}
