package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/apitracker/internal/platform"
	"github.com/wisbric/apitracker/internal/telemetry"
)

const pendingSafetyCap = 1000

// Pipeline is the Ingestion Pipeline (C5): a batching writer over Store,
// generalized from the teacher's async audit-log writer. Submit never
// blocks on storage.
type Pipeline struct {
	store    *Store
	overflow *Overflow
	logger   *slog.Logger

	batchSize int
	interval  time.Duration
	retryCfg  platform.RetryConfig

	flushMu sync.Mutex // serializes flushes

	mu      sync.Mutex // guards pending
	pending []Record

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPipeline builds a pipeline. Call Run to start its background timer.
func NewPipeline(store *Store, overflow *Overflow, batchSize int, interval time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		overflow:  overflow,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		retryCfg:  platform.DefaultRetryConfig,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Submit enqueues record to the pending batch. It never blocks on storage:
// if the batch reaches batchSize it triggers a synchronous flush with the
// caller, otherwise it returns immediately.
func (p *Pipeline) Submit(ctx context.Context, record Record) {
	p.mu.Lock()
	p.pending = append(p.pending, record)
	shouldFlush := len(p.pending) >= p.batchSize
	p.mu.Unlock()

	telemetry.IngestionSubmittedTotal.Inc()

	if shouldFlush {
		p.flush(ctx)
	}
}

// Run starts the background interval timer. Blocks until Shutdown is
// called.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			empty := len(p.pending) == 0
			p.mu.Unlock()
			if !empty {
				p.flush(ctx)
			}
		}
	}
}

// flush executes the flush algorithm under an exclusive lock that
// serializes flushes against both Submit-triggered and timer-triggered
// calls.
func (p *Pipeline) flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	start := time.Now()

	p.mu.Lock()
	toWrite := p.pending
	p.pending = nil
	p.mu.Unlock()

	// Step 2: drain the overflow buffer first, if non-empty.
	if p.overflow.Len() > 0 {
		backlog := p.overflow.Flush()
		if err := p.store.BulkInsert(ctx, backlog); err != nil {
			// Preserve the backlog; step 3 still runs for toWrite.
			p.overflow.AddAll(backlog)
			p.logger.Warn("overflow drain failed, retaining backlog", "error", err, "count", len(backlog))
		}
	}

	if len(toWrite) == 0 {
		return
	}

	// Step 3: attempt bulk insert of toWrite.
	err := p.store.BulkInsert(ctx, toWrite)
	telemetry.IngestionFlushDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		telemetry.IngestionFlushTotal.WithLabelValues("success").Inc()
		return
	}

	// Step 5: classify failure.
	if platform.IsTransient(err) {
		p.overflow.AddAll(toWrite)
		telemetry.IngestionFlushTotal.WithLabelValues("overflowed").Inc()
		p.logger.Warn("flush failed with transient error, diverted to overflow buffer", "error", err, "count", len(toWrite))
		return
	}

	p.mu.Lock()
	if len(p.pending)+len(toWrite) <= pendingSafetyCap {
		p.pending = append(toWrite, p.pending...)
		p.mu.Unlock()
		telemetry.IngestionFlushTotal.WithLabelValues("requeued").Inc()
		p.logger.Error("flush failed with non-transient error, requeued pending", "error", err, "count", len(toWrite))
		return
	}
	p.mu.Unlock()

	telemetry.IngestionFlushTotal.WithLabelValues("dropped").Inc()
	p.logger.Error("flush failed with non-transient error, pending cap exceeded, dropping records", "error", err, "count", len(toWrite))
}

// Shutdown stops the interval timer and runs one final flush, which
// attempts the overflow buffer's backlog once and then the remaining
// pending records once.
func (p *Pipeline) Shutdown(ctx context.Context) {
	close(p.stopCh)
	<-p.doneCh
	p.flush(ctx)
}
