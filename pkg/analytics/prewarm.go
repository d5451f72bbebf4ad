package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/apitracker/internal/telemetry"
)

type fingerprintKind int

const (
	kindUnknown fingerprintKind = iota
	kindDaily
	kindTop
)

type parsedFingerprint struct {
	kind fingerprintKind
	a, b int
}

// parseFingerprint parses "usage:daily:<int>" into daily(int) and
// "usage:top:<int>:<int>" into top(h, l); anything else is skipped.
func parseFingerprint(fp string) parsedFingerprint {
	var days int
	if _, err := fmt.Sscanf(fp, "usage:daily:%d", &days); err == nil {
		return parsedFingerprint{kind: kindDaily, a: days}
	}

	var hours, limit int
	if _, err := fmt.Sscanf(fp, "usage:top:%d:%d", &hours, &limit); err == nil {
		return parsedFingerprint{kind: kindTop, a: hours, b: limit}
	}

	return parsedFingerprint{kind: kindUnknown}
}

// staticPrewarmSet is the small fixed set of fingerprints warmed at
// startup and appended to every scheduled cycle.
var staticPrewarmSet = []string{
	"usage:daily:7",
	"usage:daily:30",
	"usage:top:24:3",
	"usage:top:24:10",
	"usage:top:168:10",
}

// Prewarmer is the Pre-warmer (C9).
type Prewarmer struct {
	analytics *Service
	hits      *HitTracker
	logger    *slog.Logger
}

// NewPrewarmer builds a pre-warmer.
func NewPrewarmer(analytics *Service, hits *HitTracker, logger *slog.Logger) *Prewarmer {
	return &Prewarmer{analytics: analytics, hits: hits, logger: logger}
}

// RunStartup runs the static prewarm set once. Failures are logged, not
// fatal.
func (p *Prewarmer) RunStartup(ctx context.Context) {
	p.warmSet(ctx, staticPrewarmSet, "startup")
}

func (p *Prewarmer) warmSet(ctx context.Context, fps []string, trigger string) {
	for _, fp := range fps {
		if err := p.analytics.Prewarm(ctx, fp); err != nil {
			p.logger.Warn("prewarm failed", "fingerprint", fp, "trigger", trigger, "error", err)
			telemetry.PrewarmRunsTotal.WithLabelValues(trigger, "error").Inc()
			continue
		}
		telemetry.PrewarmRunsTotal.WithLabelValues(trigger, "ok").Inc()
	}
}

// RunScheduledLoop runs a scheduled pre-warm cycle every 10 minutes: hot
// keys first, then the static set. Stops the timer and lets any in-flight
// cycle finish naturally when done is closed.
func (p *Prewarmer) RunScheduledLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			hot := p.hits.HotKeys(ctx)
			p.warmSet(ctx, hot, "scheduled")
			p.warmSet(ctx, staticPrewarmSet, "scheduled")
		}
	}
}
