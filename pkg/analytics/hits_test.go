package analytics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeKV is a minimal in-memory stand-in for internal/kv.Gateway, enough to
// satisfy the KV interface without a Redis server.
type fakeKV struct {
	mu   sync.Mutex
	vals map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{vals: make(map[string]string)} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vals[key], nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] = value
	return nil
}

func (f *fakeKV) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	fmt.Sscanf(f.vals[key], "%d", &n)
	n += delta
	f.vals[key] = fmt.Sprintf("%d", n)
	return n, nil
}

func (f *fakeKV) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *fakeKV) Keys(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.vals))
	for k := range f.vals {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestHitTracker() *HitTracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHitTracker(newFakeKV(), true, logger)
}

func TestHitTracker_RecordHitAndMiss(t *testing.T) {
	h := newTestHitTracker()
	ctx := context.Background()

	h.RecordHit(ctx, "usage:daily:7")
	h.RecordHit(ctx, "usage:daily:7")
	h.RecordMiss(ctx, "usage:daily:7")

	stats := h.StatsFor(ctx, "usage:daily:7")
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if got, want := stats.HitRate, 2.0/3.0; got != want {
		t.Errorf("HitRate = %v, want %v", got, want)
	}
}

func TestHitTracker_DisabledIsNoOp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHitTracker(newFakeKV(), false, logger)
	ctx := context.Background()

	h.RecordHit(ctx, "fp")
	h.RecordMiss(ctx, "fp")

	stats := h.StatsFor(ctx, "fp")
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("StatsFor() on a disabled tracker = %+v, want zero", stats)
	}
}

func TestHitTracker_NeedsPrewarming(t *testing.T) {
	h := newTestHitTracker()
	h.threshold = 5
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.RecordHit(ctx, "cold")
	}
	for i := 0; i < 6; i++ {
		h.RecordMiss(ctx, "cold")
	}

	if !h.NeedsPrewarming(ctx, "cold") {
		t.Error("NeedsPrewarming() = false, want true (hit rate 1/3 below 50%, total above threshold)")
	}
}

func TestHitTracker_NeedsPrewarmingFalseBelowThreshold(t *testing.T) {
	h := newTestHitTracker()
	h.threshold = 100
	ctx := context.Background()

	h.RecordMiss(ctx, "rare")

	if h.NeedsPrewarming(ctx, "rare") {
		t.Error("NeedsPrewarming() = true, want false (total accesses below threshold)")
	}
}

func TestHitTracker_NeedsPrewarmingUsesPerKeyThresholdOverride(t *testing.T) {
	h := newTestHitTracker()
	h.threshold = 100
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		h.RecordMiss(ctx, "noisy")
	}

	if h.NeedsPrewarming(ctx, "noisy") {
		t.Fatal("NeedsPrewarming() = true before override, want false (below default threshold)")
	}

	if err := h.kv.Set(ctx, thresholdKey("noisy"), "5", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !h.NeedsPrewarming(ctx, "noisy") {
		t.Error("NeedsPrewarming() = false after cache:threshold override, want true")
	}

	// A different fingerprint is unaffected by "noisy"'s override.
	h.RecordMiss(ctx, "quiet")
	if h.NeedsPrewarming(ctx, "quiet") {
		t.Error("NeedsPrewarming() = true for unrelated fingerprint, want false (falls back to default threshold)")
	}
}

func TestHitTracker_HotKeysDeduplicatesHitAndMissKeys(t *testing.T) {
	h := newTestHitTracker()
	h.threshold = 1
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.RecordMiss(ctx, "usage:daily:7")
	}

	hot := h.HotKeys(ctx)
	count := 0
	for _, fp := range hot {
		if fp == "usage:daily:7" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("HotKeys() contained %q %d times, want exactly once", "usage:daily:7", count)
	}
}
