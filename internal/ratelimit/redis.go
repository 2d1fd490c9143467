package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter shares counters across every API instance through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter creates a limiter storing keys under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "mscan:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: p}
}

// Check increments the counter for (rule.Scope, subject) and reports whether
// the call fits in the current window.
func (r *RedisLimiter) Check(ctx context.Context, rule Rule, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if rule.Disabled() || subject == "" {
		return Decision{Allowed: true, Limit: rule.Limit}, nil
	}

	windowMs := rule.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, rule.Scope, subject)
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", rule.Scope, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	d := Decision{
		Allowed: int(count) <= rule.Limit,
		Count:   int(count),
		Limit:   rule.Limit,
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return d, nil
}
