package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	hitTrackerTTL         = 5 * time.Minute
	defaultPrewarmThreshold = 100
)

// HitTracker is the Hit Tracker (C8): per-fingerprint hit/miss counters,
// best-effort and never surfaced to the caller.
type HitTracker struct {
	kv        KV
	enabled   bool
	threshold int
	logger    *slog.Logger
}

// NewHitTracker builds a hit tracker. When enabled is false, every
// operation is a no-op.
func NewHitTracker(kv KV, enabled bool, logger *slog.Logger) *HitTracker {
	return &HitTracker{kv: kv, enabled: enabled, threshold: defaultPrewarmThreshold, logger: logger}
}

func hitKey(fp string) string       { return fmt.Sprintf("cache:hits:%s", fp) }
func missKey(fp string) string      { return fmt.Sprintf("cache:hits:%s:miss", fp) }
func thresholdKey(fp string) string { return fmt.Sprintf("cache:threshold:%s", fp) }

// RecordHit increments the hit counter for fp, best-effort.
func (h *HitTracker) RecordHit(ctx context.Context, fp string) {
	h.incr(ctx, hitKey(fp))
}

// RecordMiss increments the miss counter for fp, best-effort.
func (h *HitTracker) RecordMiss(ctx context.Context, fp string) {
	h.incr(ctx, missKey(fp))
}

func (h *HitTracker) incr(ctx context.Context, key string) {
	if !h.enabled {
		return
	}
	v, err := h.kv.IncrBy(ctx, key, 1)
	if err != nil {
		h.logger.Warn("hit tracker increment failed", "key", key, "error", err)
		return
	}
	if v == 1 {
		if err := h.kv.Expire(ctx, key, hitTrackerTTL); err != nil {
			h.logger.Warn("hit tracker expire failed", "key", key, "error", err)
		}
	}
}

// Stats returns the hit/miss counts and hit rate for fp.
type Stats struct {
	Hits    int
	Misses  int
	HitRate float64
}

func (h *HitTracker) counterValue(ctx context.Context, key string) int {
	raw, err := h.kv.Get(ctx, key)
	if err != nil || raw == "" {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(raw, "%d", &n)
	return n
}

// StatsFor returns hit/miss stats for fingerprint fp.
func (h *HitTracker) StatsFor(ctx context.Context, fp string) Stats {
	hits := h.counterValue(ctx, hitKey(fp))
	misses := h.counterValue(ctx, missKey(fp))
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate}
}

// thresholdFor returns the per-fingerprint override at cache:threshold:<fp>
// if one has been set, falling back to the tracker's default.
func (h *HitTracker) thresholdFor(ctx context.Context, fp string) int {
	raw, err := h.kv.Get(ctx, thresholdKey(fp))
	if err != nil || raw == "" {
		return h.threshold
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return h.threshold
	}
	return n
}

// NeedsPrewarming reports whether fp's hit rate is below 50% and its
// total accesses exceed the applicable threshold (cache:threshold:<fp> if
// set, otherwise the tracker default).
func (h *HitTracker) NeedsPrewarming(ctx context.Context, fp string) bool {
	s := h.StatsFor(ctx, fp)
	return s.HitRate < 0.5 && (s.Hits+s.Misses) > h.thresholdFor(ctx, fp)
}

// HotKeys scans for counter keys, derives unique fingerprints, and
// returns those that pass NeedsPrewarming.
func (h *HitTracker) HotKeys(ctx context.Context) []string {
	keys, err := h.kv.Keys(ctx, "cache:hits:*")
	if err != nil {
		h.logger.Warn("hit tracker scan failed", "error", err)
		return nil
	}

	seen := make(map[string]struct{})
	var hot []string
	for _, k := range keys {
		fp := strings.TrimPrefix(k, "cache:hits:")
		fp = strings.TrimSuffix(fp, ":miss")
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		if h.NeedsPrewarming(ctx, fp) {
			hot = append(hot, fp)
		}
	}
	return hot
}
