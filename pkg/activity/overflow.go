package activity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/apitracker/internal/telemetry"
)

// Overflow is the Overflow Buffer (C4): a bounded FIFO that never blocks
// a caller, used to hold records the Ingestion Pipeline couldn't durably
// write on the first attempt.
type Overflow struct {
	mu      sync.Mutex
	entries []overflowEntry
	maxSize int
	maxAge  time.Duration
	logger  *slog.Logger
}

type overflowEntry struct {
	record     Record
	admittedAt time.Time
}

// NewOverflow builds an overflow buffer with the given bounds.
func NewOverflow(maxSize int, maxAge time.Duration, logger *slog.Logger) *Overflow {
	return &Overflow{maxSize: maxSize, maxAge: maxAge, logger: logger}
}

// Add appends record, dropping the oldest entry and logging a warning if
// the buffer is at capacity. O(1), never blocks.
func (o *Overflow) Add(record Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = append(o.entries, overflowEntry{record: record, admittedAt: time.Now()})
	if len(o.entries) > o.maxSize {
		dropped := o.entries[0]
		o.entries = o.entries[1:]
		o.logger.Warn("overflow buffer full, dropping oldest entry",
			"caller_id", dropped.record.CallerID, "endpoint", dropped.record.Endpoint)
	}
	telemetry.OverflowBufferSize.Set(float64(len(o.entries)))
}

// AddAll appends every record in records.
func (o *Overflow) AddAll(records []Record) {
	for _, r := range records {
		o.Add(r)
	}
}

// Flush atomically removes and returns all entries.
func (o *Overflow) Flush() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.entries) == 0 {
		return nil
	}
	out := make([]Record, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.record
	}
	o.entries = nil
	telemetry.OverflowBufferSize.Set(0)
	return out
}

// Len returns the current buffer size.
func (o *Overflow) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Cleanup removes entries older than maxAge.
func (o *Overflow) Cleanup() {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := time.Now().Add(-o.maxAge)
	kept := o.entries[:0]
	for _, e := range o.entries {
		if e.admittedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(o.entries) {
		o.logger.Warn("overflow buffer cleanup evicted aged entries", "evicted", len(o.entries)-len(kept))
	}
	o.entries = kept
	telemetry.OverflowBufferSize.Set(float64(len(o.entries)))
}

// RunCleanupLoop invokes Cleanup every 60s until done is closed.
func (o *Overflow) RunCleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.Cleanup()
		}
	}
}
