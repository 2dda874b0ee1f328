// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the discovery core.
type Metrics struct {
	// Scan metrics
	RunsTotal          *prometheus.CounterVec // by outcome
	RunDuration        prometheus.Histogram
	LotsSeen           prometheus.Gauge
	ObservationsMerged prometheus.Counter
	UnmappableRecords  prometheus.Counter
	StreamFailures     prometheus.Counter

	// Augmentation metrics
	LotsAugmented   prometheus.Counter
	DegradedFetches prometheus.Counter
	SessionsLost    prometheus.Counter

	// Live feed metrics
	FeedReconnects prometheus.Counter
	FeedMessages   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lotscout"
	}

	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Discovery runs by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one full discovery run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LotsSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "lots_seen",
			Help:      "Distinct lots observed in the most recent run",
		}),
		ObservationsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "observations_merged_total",
			Help:      "Observations merged into the lot store",
		}),
		UnmappableRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "unmappable_records_total",
			Help:      "Raw records dropped for lacking a lot identity",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "stream_failures_total",
			Help:      "Source streams that failed mid-run",
		}),

		LotsAugmented: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "augment",
			Name:      "lots_augmented_total",
			Help:      "Lots whose bid state was refreshed from rendered pages",
		}),
		DegradedFetches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "augment",
			Name:      "degraded_fetches_total",
			Help:      "Rendered pages that fetched but could not be parsed",
		}),
		SessionsLost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "augment",
			Name:      "sessions_lost_total",
			Help:      "Times the authenticated session was rejected mid-run",
		}),

		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livefeed",
			Name:      "reconnects_total",
			Help:      "Live feed reconnect attempts",
		}),
		FeedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livefeed",
			Name:      "messages_total",
			Help:      "Live feed bid messages processed",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
