// Package metrics exposes the pipeline's Prometheus instrumentation:
// drop counters labeled by event type and drop cause, per-stage latency
// histograms, and a batch-size histogram.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_dropped_total",
			Help: "Total number of events dropped by the pipeline, labeled by event type and drop cause.",
		},
		[]string{"event_type", "drop_cause"},
	)

	EventsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_produced_total",
			Help: "Total number of events successfully enriched and produced.",
		},
		[]string{"event_type"},
	)

	EventsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_retried_total",
			Help: "Total number of events that surfaced a retryable error.",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestion_batch_size",
			Help:    "Number of events in a consumer batch at commit time.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
		},
	)

	PersonMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestion_person_merges_total",
			Help: "Total number of person merges performed by the identity engine.",
		},
	)

	TeamCacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_team_cache_refresh_total",
			Help: "Total number of team-cache refreshes, labeled by hit/miss/singleflight_shared.",
		},
		[]string{"result"},
	)
)

// ObserveStage times a pipeline stage invocation and records it.
func ObserveStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}
