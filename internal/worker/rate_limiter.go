// Package worker holds dispatch-side background helpers, currently the
// redis-backed send rate limiter.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// DefaultSendsPerMinute is the per-provider-domain budget applied when the
// caller does not configure one.
const DefaultSendsPerMinute = 300

// Lua keeps the check-and-increment atomic. A plain GET → check → INCR
// sequence would over-admit under concurrent workers.
const domainLimitScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// SendRateLimiter throttles outbound SMTP submissions per provider domain
// using minute-bucketed Redis counters. Shared safely by all dispatch
// workers, and by multiple processes pointing at the same Redis.
type SendRateLimiter struct {
	redis     *redis.Client
	script    *redis.Script
	perMinute int
}

// NewSendRateLimiter creates a limiter with the given per-domain budget per
// minute. A non-positive budget falls back to DefaultSendsPerMinute.
func NewSendRateLimiter(client *redis.Client, perMinute int) *SendRateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultSendsPerMinute
	}
	return &SendRateLimiter{
		redis:     client,
		script:    redis.NewScript(domainLimitScript),
		perMinute: perMinute,
	}
}

// NewSendRateLimiterFromURL connects to Redis and builds a limiter.
func NewSendRateLimiterFromURL(redisURL string, perMinute int) (*SendRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewSendRateLimiter(client, perMinute), nil
}

// Allow atomically tries to admit one send for the domain in the current
// minute bucket. When denied it returns how long to wait before the bucket
// rolls over. Redis being unreachable admits the send: throttling is a
// protection, not a correctness requirement, and must not fail a dispatch.
func (r *SendRateLimiter) Allow(ctx context.Context, domain string) (bool, time.Duration) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:send:%s:%d", domain, now.Unix()/60)

	result, err := r.script.Run(ctx, r.redis, []string{key}, r.perMinute, 120).Slice()
	if err != nil {
		logger.Warn("rate limit check failed, admitting send", "domain", domain, "error", err.Error())
		return true, 0
	}
	if allowed, _ := result[0].(int64); allowed == 1 {
		return true, 0
	}
	return false, time.Duration(60-now.Second()) * time.Second
}

// Wait blocks until a send for the domain is admitted or ctx is done.
func (r *SendRateLimiter) Wait(ctx context.Context, domain string) error {
	for {
		allowed, wait := r.Allow(ctx, domain)
		if allowed {
			return nil
		}
		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close releases the underlying Redis connection.
func (r *SendRateLimiter) Close() error {
	return r.redis.Close()
}
