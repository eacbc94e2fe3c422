package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/edge/dbclean"
)

type CleanupMetrics struct {
	runsTotal   *prometheus.CounterVec
	rowsDeleted *prometheus.CounterVec
	tables      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	logger      *zap.Logger
}

func NewCleanupMetrics(namespace string, logger *zap.Logger) *CleanupMetrics {
	return NewCleanupMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

func NewCleanupMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *CleanupMetrics {
	cm := &CleanupMetrics{
		logger: logger,
	}

	cm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "cleanup_runs_total",
			Help:      "Total database cleanup runs",
		},
		[]string{"mode", "status"},
	)

	cm.rowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "cleanup_rows_deleted_total",
			Help:      "Rows deleted by cleanup step",
		},
		[]string{"step"},
	)

	cm.tables = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "tables_optimized_total",
			Help:      "Tables processed by OPTIMIZE TABLE",
		},
		[]string{"mode"},
	)

	cm.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of database cleanup runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"mode"},
	)

	cm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "cleanup_errors_total",
			Help:      "Failed cleanup steps",
		},
		[]string{"step"},
	)

	registerer.MustRegister(
		cm.runsTotal,
		cm.rowsDeleted,
		cm.tables,
		cm.duration,
		cm.errorsTotal,
	)

	return cm
}

// ObserveRun records a finished run. Skipped runs only count as runs.
func (cm *CleanupMetrics) ObserveRun(result *dbclean.Result, err error) {
	mode := dbclean.ModeComplete
	if result != nil {
		mode = result.Mode
	}

	switch {
	case err != nil:
		cm.RecordRun(mode, "failure")
	case result == nil:
		return
	case result.Skipped:
		cm.RecordRun(mode, "skipped")
		return
	case result.Failed():
		cm.RecordRun(mode, "partial")
	default:
		cm.RecordRun(mode, "success")
	}
	if result == nil {
		return
	}

	for step, n := range result.Deleted() {
		if n > 0 {
			cm.RecordRowsDeleted(step, n)
		}
	}
	for _, f := range result.Failures {
		cm.RecordError(f.Step)
	}
	if result.TablesOptimized > 0 {
		cm.tables.WithLabelValues(mode).Add(float64(result.TablesOptimized))
	}
	cm.RecordDuration(mode, result.Duration.Seconds())
}

func (cm *CleanupMetrics) RecordRun(mode string, status string) {
	cm.runsTotal.WithLabelValues(mode, status).Inc()
}

func (cm *CleanupMetrics) RecordRowsDeleted(step string, count int64) {
	cm.rowsDeleted.WithLabelValues(step).Add(float64(count))
}

func (cm *CleanupMetrics) RecordDuration(mode string, seconds float64) {
	cm.duration.WithLabelValues(mode).Observe(seconds)
}

func (cm *CleanupMetrics) RecordError(step string) {
	cm.errorsTotal.WithLabelValues(step).Inc()
}
