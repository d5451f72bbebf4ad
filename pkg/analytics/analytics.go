// Package analytics implements the read-through Analytics Service (C7),
// the Hit Tracker (C8), and the Pre-warmer (C9) over the Durable Log
// Store's aggregation queries.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wisbric/apitracker/internal/telemetry"
	"github.com/wisbric/apitracker/pkg/activity"
)

// KV is the subset of internal/kv.Gateway the analytics service needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// CallerLister resolves the set of active callers whose per-day rows feed
// DailyUsage's concatenation step.
type CallerLister interface {
	ActiveCallerIDs(ctx context.Context) ([]string, error)
}

// Service is the Analytics Service (C7), backed by the Hit Tracker (C8).
type Service struct {
	kv       KV
	store    *activity.Store
	callers  CallerLister
	hits     *HitTracker
	logger   *slog.Logger
	ttlDaily time.Duration
	ttlTop   time.Duration
	version  string
}

// New builds an analytics service.
func New(kv KV, store *activity.Store, callers CallerLister, hits *HitTracker, ttlDaily, ttlTop time.Duration, version string, logger *slog.Logger) *Service {
	return &Service{kv: kv, store: store, callers: callers, hits: hits, logger: logger, ttlDaily: ttlDaily, ttlTop: ttlTop, version: version}
}

func (s *Service) fingerprint(parts ...any) string {
	key := fmt.Sprint(parts...)
	return fmt.Sprintf("%s:%s", s.version, key)
}

// Daily returns DailyUsage's per-caller-preserving concatenation across
// every active caller, read-through cached.
func (s *Service) Daily(ctx context.Context, days int) ([]activity.DailyUsageRow, error) {
	fp := s.fingerprint(fmt.Sprintf("usage:daily:%d", days))

	if rows, ok := s.tryCache(ctx, fp); ok {
		return rows, nil
	}

	rows, err := s.computeDaily(ctx, days)
	if err != nil {
		return nil, err
	}

	s.fillCache(ctx, fp, rows, s.ttlDaily)
	return rows, nil
}

// Top passes (limit, hours) straight through to TopCallers, read-through
// cached.
func (s *Service) Top(ctx context.Context, hours, limit int) ([]activity.TopCallerRow, error) {
	fp := s.fingerprint(fmt.Sprintf("usage:top:%d:%d", hours, limit))

	var rows []activity.TopCallerRow
	if raw, err := s.kv.Get(ctx, fp); err == nil && raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &rows); jsonErr == nil {
			s.hits.RecordHit(ctx, fp)
			telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
			return rows, nil
		}
	} else {
		s.hits.RecordMiss(ctx, fp)
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
	}

	rows, err := s.store.TopCallers(ctx, hours, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top callers: %w", err)
	}

	if len(rows) > 0 {
		if raw, err := json.Marshal(rows); err == nil {
			if err := s.kv.Set(ctx, fp, string(raw), s.ttlTop); err != nil {
				s.logger.Warn("caching top callers failed", "error", err)
			}
		}
	}

	return rows, nil
}

func (s *Service) tryCache(ctx context.Context, fp string) ([]activity.DailyUsageRow, bool) {
	raw, err := s.kv.Get(ctx, fp)
	if err != nil || raw == "" {
		s.hits.RecordMiss(ctx, fp)
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	var rows []activity.DailyUsageRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		s.hits.RecordMiss(ctx, fp)
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	s.hits.RecordHit(ctx, fp)
	telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
	return rows, true
}

func (s *Service) computeDaily(ctx context.Context, days int) ([]activity.DailyUsageRow, error) {
	ids, err := s.callers.ActiveCallerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active callers: %w", err)
	}

	var all []activity.DailyUsageRow
	for _, id := range ids {
		rows, err := s.store.DailyUsage(ctx, id, days)
		if err != nil {
			return nil, fmt.Errorf("querying daily usage for %s: %w", id, err)
		}
		all = append(all, rows...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].Count > all[j].Count
	})

	return all, nil
}

func (s *Service) fillCache(ctx context.Context, fp string, rows []activity.DailyUsageRow, ttl time.Duration) {
	if len(rows) == 0 {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		s.logger.Warn("marshaling cache entry failed", "fingerprint", fp, "error", err)
		return
	}
	if err := s.kv.Set(ctx, fp, string(raw), ttl); err != nil {
		s.logger.Warn("caching daily usage failed", "fingerprint", fp, "error", err)
	}
}

// Prewarm bypasses the cache-read step and always (re)computes and writes
// the given fingerprint's result. fp may carry the cache version prefix
// (as hot keys from the hit tracker do) or not (as the static set does).
func (s *Service) Prewarm(ctx context.Context, fp string) error {
	fp = strings.TrimPrefix(fp, s.version+":")
	switch parsed := parseFingerprint(fp); {
	case parsed.kind == kindDaily:
		rows, err := s.computeDaily(ctx, parsed.a)
		if err != nil {
			return err
		}
		s.fillCache(ctx, s.fingerprint(fp), rows, s.ttlDaily)
	case parsed.kind == kindTop:
		rows, err := s.store.TopCallers(ctx, parsed.a, parsed.b)
		if err != nil {
			return err
		}
		if raw, err := json.Marshal(rows); err == nil && len(rows) > 0 {
			_ = s.kv.Set(ctx, s.fingerprint(fp), string(raw), s.ttlTop)
		}
	default:
		return fmt.Errorf("unrecognized fingerprint %q", fp)
	}
	return nil
}
