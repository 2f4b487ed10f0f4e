package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts load events in Prometheus collectors.
type Metrics struct {
	coerceFailures *prometheus.CounterVec
	linesDropped   *prometheus.CounterVec
	batches        *prometheus.CounterVec
	rowsInserted   *prometheus.CounterVec
	rowsSkipped    *prometheus.CounterVec
	fileLoads      *prometheus.CounterVec
	fileDuration   *prometheus.HistogramVec
}

// NewMetrics creates the load collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		coerceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "field_coerce_failures_total",
			Help:      "Fields stored as null because their text did not parse.",
		}, []string{"file_type", "column"}),
		linesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "lines_dropped_total",
			Help:      "Lines dropped by the scanner.",
		}, []string{"file_type"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "batches_total",
			Help:      "Insert batches by outcome.",
		}, []string{"table", "outcome"}),
		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "rows_inserted_total",
			Help:      "Rows committed to the store.",
		}, []string{"table"}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "rows_skipped_total",
			Help:      "Rows rejected by the store.",
		}, []string{"table"}),
		fileLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollload",
			Name:      "file_loads_total",
			Help:      "File loads by status.",
		}, []string{"file_type", "status"}),
		fileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollload",
			Name:      "file_load_duration_seconds",
			Help:      "Wall time per file load.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"file_type"}),
	}

	reg.MustRegister(
		m.coerceFailures,
		m.linesDropped,
		m.batches,
		m.rowsInserted,
		m.rowsSkipped,
		m.fileLoads,
		m.fileDuration,
	)
	return m
}

// Report updates the collectors for e.
func (m *Metrics) Report(e Event) {
	switch e.Kind {
	case FieldCoerceFailed:
		m.coerceFailures.WithLabelValues(e.FileType, e.Column).Inc()
	case LineDropped:
		m.linesDropped.WithLabelValues(e.FileType).Inc()
	case BatchCommitted:
		m.batches.WithLabelValues(e.Table, "committed").Inc()
		m.rowsInserted.WithLabelValues(e.Table).Add(float64(e.Rows))
	case BatchRejected:
		m.batches.WithLabelValues(e.Table, "rejected").Inc()
	case RowSkipped:
		m.rowsSkipped.WithLabelValues(e.Table).Inc()
	case FileFinished:
		m.fileLoads.WithLabelValues(e.FileType, e.Status).Inc()
		m.fileDuration.WithLabelValues(e.FileType).Observe(e.Duration.Seconds())
	}
}
