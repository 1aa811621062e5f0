// Package metrics exposes Prometheus instrumentation for the loaders and
// the catalog query surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts source rows consumed per loader stage, after any
	// country filtering.
	RowsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refgateway",
		Subsystem: "loader",
		Name:      "rows_read_total",
		Help:      "Source rows read per loader stage.",
	}, []string{"stage"})

	// RowsWritten counts rows written to the catalog per loader stage.
	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refgateway",
		Subsystem: "loader",
		Name:      "rows_written_total",
		Help:      "Rows written per loader stage.",
	}, []string{"stage"})

	// RowsRejected counts rows rejected by validation or key conflicts.
	RowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refgateway",
		Subsystem: "loader",
		Name:      "rows_rejected_total",
		Help:      "Rows rejected per loader stage.",
	}, []string{"stage"})

	// BatchCommitSeconds observes the duration of postal-map batch commits,
	// including retries.
	BatchCommitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "refgateway",
		Subsystem: "loader",
		Name:      "batch_commit_seconds",
		Help:      "Postal-map batch commit duration.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	// RunSeconds observes end-to-end loader run durations per stage.
	RunSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refgateway",
		Subsystem: "loader",
		Name:      "run_seconds",
		Help:      "Loader run duration per stage.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"stage", "outcome"})
)

// ObserveRun records the counters and duration of a finished loader run.
func ObserveRun(stage, outcome string, rowsIn, rowsWritten, rowsRejected int64, d time.Duration) {
	RowsRead.WithLabelValues(stage).Add(float64(rowsIn))
	RowsWritten.WithLabelValues(stage).Add(float64(rowsWritten))
	RowsRejected.WithLabelValues(stage).Add(float64(rowsRejected))
	RunSeconds.WithLabelValues(stage, outcome).Observe(d.Seconds())
}
