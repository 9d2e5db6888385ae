package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendCalls counts scorer invocations by outcome (ok, rate_limited, warming_up, transient, malformed, permanent)
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeler_backend_calls_total",
			Help: "Total number of classifier backend calls",
		},
		[]string{"outcome"},
	)

	// BackendLatency tracks the latency of a single scorer call
	BackendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labeler_backend_latency_seconds",
			Help:    "Classifier backend call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retries counts retry decisions by the state that caused them
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeler_retries_total",
			Help: "Total number of retried backend calls",
		},
		[]string{"state"},
	)

	// Items counts items by outcome (recorded, failed, skipped)
	Items = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeler_items_total",
			Help: "Total number of processed items",
		},
		[]string{"outcome"},
	)

	// DroppedLabels counts labels left out of a ranking after retries were exhausted
	DroppedLabels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeler_dropped_labels_total",
			Help: "Total number of labels dropped from a category ranking",
		},
		[]string{"category"},
	)

	// CheckpointWrites counts persisted snapshots by kind (checkpoint, final)
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeler_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"kind"},
	)

	// CheckpointRecords is the record count of the last written snapshot
	CheckpointRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labeler_checkpoint_records",
			Help: "Number of records in the last written checkpoint",
		},
	)
)
