// Package ratelimit implements the sliding-window Rate Limiter (C6): an
// atomic Lua script evaluated by the KV Gateway, with an in-process
// fallback limiter for when the gateway is unreachable.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/apitracker/internal/telemetry"
)

// slidingWindowScript implements the check-and-increment algorithm
// indivisibly: trim expired entries, compare the remaining count against
// the ceiling, and either report denial with the computed reset time or
// admit the request by adding a uniquely-scored member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window_ms)
local current = redis.call('ZCARD', key)

if current >= ceiling then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local reset = now + window_ms
	if oldest[2] ~= nil then
		reset = tonumber(oldest[2]) + window_ms
	end
	return {0, current, reset}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, math.floor(window_ms / 1000) + 60)
return {1, current + 1, now + window_ms}
`)

// Gateway is the subset of internal/kv.Gateway the limiter needs.
type Gateway interface {
	EvalAtomic(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
}

// Decision is the result of a rate-limit check.
type Decision struct {
	Allowed  bool
	Remaining int
	ResetAt  time.Time
	Current  int
}

// Limiter is the Rate Limiter (C6).
type Limiter struct {
	kv               Gateway
	fallback         *FallbackLimiter
	defaultCeiling   int
	window           time.Duration
	logger           *slog.Logger
}

// New builds a rate limiter.
func New(kv Gateway, defaultCeiling int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		kv:             kv,
		fallback:       NewFallbackLimiter(window),
		defaultCeiling: defaultCeiling,
		window:         window,
		logger:         logger,
	}
}

// Check evaluates the sliding window for callerID. ceiling, if > 0,
// overrides the default ceiling for this caller.
func (l *Limiter) Check(ctx context.Context, callerID string, ceiling int) (Decision, error) {
	if ceiling <= 0 {
		ceiling = l.defaultCeiling
	}

	key := fmt.Sprintf("rate_limit:%s", callerID)
	now := time.Now().UnixMilli()
	windowMs := l.window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now, randomSuffix())

	result, err := l.kv.EvalAtomic(ctx, slidingWindowScript, []string{key}, now, windowMs, ceiling, member)
	if err != nil {
		l.logger.Warn("rate limit script failed, falling back to in-process limiter", "caller_id", callerID, "error", err)
		d := l.fallback.Check(callerID, ceiling)
		fallbackOutcome := "denied"
		if d.Allowed {
			fallbackOutcome = "allowed"
		}
		telemetry.RateLimitDecisionsTotal.WithLabelValues(fallbackOutcome, "fallback").Inc()
		return d, nil
	}

	vals, ok := result.([]any)
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	allowed := toInt64(vals[0]) == 1
	current := int(toInt64(vals[1]))
	resetMs := toInt64(vals[2])

	d := Decision{
		Allowed: allowed,
		Current: current,
		ResetAt: time.UnixMilli(resetMs),
	}
	if allowed {
		d.Remaining = ceiling - current
	}

	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	telemetry.RateLimitDecisionsTotal.WithLabelValues(outcome, "shared").Inc()

	return d, nil
}

// RunFallbackSweep runs the in-process fallback limiter's periodic sweep
// until done is closed. The fallback only ever serves traffic while the
// shared KV gateway is unreachable, but its sweep runs for the lifetime of
// the process so it never accumulates stale callers between outages.
func (l *Limiter) RunFallbackSweep(done <-chan struct{}) {
	l.fallback.RunSweepLoop(done)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
