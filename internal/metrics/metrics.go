// Package metrics defines the Prometheus instrumentation of the data source.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perfmon"

// Query outcomes
const (
	OutcomeOK         = "ok"
	OutcomeBadRequest = "bad_request"
	OutcomeError      = "error"
	OutcomeCacheHit   = "cache_hit"
)

// Flush statuses
const (
	FlushOK     = "ok"
	FlushFailed = "failed"
)

// Metrics holds every collector. A nil registerer creates unregistered
// collectors, which tests use.
type Metrics struct {
	Queries         *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	SeriesResolved  prometheus.Counter
	RowsAccumulated prometheus.Counter
	BucketsBuilt    prometheus.Histogram

	IngestBatches *prometheus.CounterVec
	IngestRows    prometheus.Counter
	IngestDropped prometheus.Counter
	Flushes       *prometheus.CounterVec
	FlushDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Series queries by outcome.",
		}, []string{"outcome"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent answering series queries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		SeriesResolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_resolved_total",
			Help:      "Series resolved across all queries.",
		}),
		RowsAccumulated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accumulated_total",
			Help:      "Raw rows routed through aggregators.",
		}),
		BucketsBuilt: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_buckets",
			Help:      "Minute buckets per query result.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		IngestBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batches_total",
			Help:      "Row batches received by template.",
		}, []string{"template"}),
		IngestRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "Raw rows received.",
		}),
		IngestDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_dropped_total",
			Help:      "Buffered rows storage rejected as malformed.",
		}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batch writer flushes by status.",
		}, []string{"status"}),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent flushing buffered rows to storage.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RegisterCacheSize exports size as the query cache entry count
func RegisterCacheSize(reg prometheus.Registerer, size func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "query_cache_entries",
		Help:      "Entries held by the query result cache.",
	}, func() float64 { return float64(size()) })
}
