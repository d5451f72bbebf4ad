// Package kv provides the gateway to the external key-value store: a
// writer/reader client pair with startup readiness waiting, capped
// exponential reconnect, and a circuit breaker guarding every operation.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/wisbric/apitracker/internal/apierr"
	"github.com/wisbric/apitracker/internal/telemetry"
)

const (
	readinessDeadline = 10 * time.Second
	maxReconnectTries = 5
)

// Gateway is the KV Gateway (C1): a writer (mutations, scripts, publish)
// and a reader (plain reads, subscribe), each wrapped by a circuit breaker
// so operations fail fast with an apierr.KVUnavailable error once the
// backend trips.
type Gateway struct {
	writer *redis.Client
	reader *redis.Client
	logger *slog.Logger

	writerBreaker *gobreaker.CircuitBreaker[any]
	readerBreaker *gobreaker.CircuitBreaker[any]

	ready bool
}

// New connects the writer (and, if replicaURL is non-empty, a distinct
// reader) and waits for both to become ready within a 10-second deadline.
func New(ctx context.Context, writerURL, replicaURL string, logger *slog.Logger) (*Gateway, error) {
	writerOpts, err := redis.ParseURL(writerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing writer redis URL: %w", err)
	}
	writer := redis.NewClient(writerOpts)

	reader := writer
	if replicaURL != "" {
		readerOpts, err := redis.ParseURL(replicaURL)
		if err != nil {
			return nil, fmt.Errorf("parsing replica redis URL: %w", err)
		}
		reader = redis.NewClient(readerOpts)
	}

	g := &Gateway{
		writer: writer,
		reader: reader,
		logger: logger,
	}
	g.writerBreaker = newBreaker("kv-writer", logger)
	if reader != writer {
		g.readerBreaker = newBreaker("kv-reader", logger)
	} else {
		g.readerBreaker = g.writerBreaker
	}

	waitCtx, cancel := context.WithTimeout(ctx, readinessDeadline)
	defer cancel()

	if err := waitReady(waitCtx, writer); err != nil {
		return nil, fmt.Errorf("writer not ready within %s: %w", readinessDeadline, err)
	}
	if reader != writer {
		if err := waitReady(waitCtx, reader); err != nil {
			return nil, fmt.Errorf("reader not ready within %s: %w", readinessDeadline, err)
		}
	}
	g.ready = true

	return g, nil
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				telemetry.KVCircuitOpenTotal.Inc()
			}
		},
	})
}

func waitReady(ctx context.Context, c *redis.Client) error {
	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		if err := c.Ping(ctx).Err(); err == nil {
			return nil
		}
		if attempt >= maxReconnectTries {
			return errors.New("exhausted reconnect attempts")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(100*time.Millisecond)*math.Pow(2, float64(attempt)), float64(3*time.Second)))
	}
}

// Close closes both underlying clients.
func (g *Gateway) Close() error {
	if g.reader != g.writer {
		_ = g.reader.Close()
	}
	return g.writer.Close()
}

// Ping reports whether the writer is reachable, used by readiness checks.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.writer.Ping(ctx).Err()
}

// Degraded reports whether either circuit breaker is not fully closed,
// surfaced on /health so operators see resilience-layer state without
// scraping metrics.
func (g *Gateway) Degraded() bool {
	return g.writerBreaker.State() != gobreaker.StateClosed || g.readerBreaker.State() != gobreaker.StateClosed
}

func (g *Gateway) write(ctx context.Context, fn func() (any, error)) (any, error) {
	v, err := g.writerBreaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apierr.KVUnavailable(err)
		}
		return nil, apierr.KVUnavailable(err)
	}
	return v, nil
}

func (g *Gateway) read(ctx context.Context, fn func() (any, error)) (any, error) {
	v, err := g.readerBreaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apierr.KVUnavailable(err)
		}
		return nil, apierr.KVUnavailable(err)
	}
	return v, nil
}

// Get returns the value at key, or ("", nil) if the key doesn't exist.
func (g *Gateway) Get(ctx context.Context, key string) (string, error) {
	v, err := g.read(ctx, func() (any, error) {
		s, err := g.reader.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return s, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Set stores value at key with an optional TTL (zero means no expiry).
func (g *Gateway) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := g.write(ctx, func() (any, error) {
		return nil, g.writer.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Del removes key.
func (g *Gateway) Del(ctx context.Context, key string) error {
	_, err := g.write(ctx, func() (any, error) {
		return nil, g.writer.Del(ctx, key).Err()
	})
	return err
}

// IncrBy increments key by delta and returns the new value.
func (g *Gateway) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := g.write(ctx, func() (any, error) {
		return g.writer.IncrBy(ctx, key, delta).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Expire sets a TTL on an existing key.
func (g *Gateway) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := g.write(ctx, func() (any, error) {
		return nil, g.writer.Expire(ctx, key, ttl).Err()
	})
	return err
}

// Keys returns all keys matching pattern. Used by the hit tracker's
// periodic hot-key scan; not used on any request path.
func (g *Gateway) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := g.read(ctx, func() (any, error) {
		return g.reader.Keys(ctx, pattern).Result()
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// EvalAtomic evaluates a Lua script against the writer, used by the rate
// limiter's indivisible check-and-increment.
func (g *Gateway) EvalAtomic(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	return g.write(ctx, func() (any, error) {
		return script.Run(ctx, g.writer, keys, args...).Result()
	})
}

// Publish fires a message on channel. Fire-and-forget: callers on the
// ingestion path must not block or fail on publish errors.
func (g *Gateway) Publish(ctx context.Context, channel, message string) error {
	_, err := g.write(ctx, func() (any, error) {
		return nil, g.writer.Publish(ctx, channel, message).Err()
	})
	return err
}

// Subscribe returns a PubSub handle for channel using the reader client.
// Callers are responsible for closing it.
func (g *Gateway) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return g.reader.Subscribe(ctx, channel)
}
