package telemetry

import "github.com/prometheus/client_golang/prometheus"

var IngestionSubmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "ingestion",
		Name:      "submitted_total",
		Help:      "Total number of activity records submitted to the ingestion pipeline.",
	},
)

var IngestionFlushTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "ingestion",
		Name:      "flush_total",
		Help:      "Total number of ingestion flushes by outcome.",
	},
	[]string{"outcome"}, // "success", "overflowed", "requeued", "dropped"
)

var IngestionFlushDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "apitracker",
		Subsystem: "ingestion",
		Name:      "flush_duration_seconds",
		Help:      "Duration of ingestion pipeline flushes.",
		Buckets:   prometheus.DefBuckets,
	},
)

var OverflowBufferSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "apitracker",
		Subsystem: "overflow",
		Name:      "buffer_size",
		Help:      "Current number of entries held in the overflow buffer.",
	},
)

var RateLimitDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of rate limit decisions by outcome and backend.",
	},
	[]string{"outcome", "backend"}, // outcome: allowed/denied, backend: shared/fallback
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "analytics",
		Name:      "cache_total",
		Help:      "Total number of analytics cache lookups by outcome.",
	},
	[]string{"outcome"}, // hit, miss
)

var PrewarmRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "analytics",
		Name:      "prewarm_runs_total",
		Help:      "Total number of pre-warm cycles by trigger and outcome.",
	},
	[]string{"trigger", "outcome"}, // trigger: startup/scheduled, outcome: ok/error
)

var FanoutPublishedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "fanout",
		Name:      "published_total",
		Help:      "Total number of ingestion events published to the pub/sub bus.",
	},
)

var FanoutSubscribersGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "apitracker",
		Subsystem: "fanout",
		Name:      "subscribers",
		Help:      "Current number of connected live subscribers.",
	},
)

var KVCircuitOpenTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "apitracker",
		Subsystem: "kv",
		Name:      "circuit_open_total",
		Help:      "Total number of times the KV gateway circuit breaker tripped open.",
	},
)

// All returns the service-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IngestionSubmittedTotal,
		IngestionFlushTotal,
		IngestionFlushDuration,
		OverflowBufferSize,
		RateLimitDecisionsTotal,
		CacheHitsTotal,
		PrewarmRunsTotal,
		FanoutPublishedTotal,
		FanoutSubscribersGauge,
		KVCircuitOpenTotal,
	}
}
