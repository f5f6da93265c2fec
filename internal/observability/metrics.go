package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the scan engine.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: status={completed,failed,skipped}
	CycleDuration prometheus.Histogram
	ScanRunning   prometheus.Gauge

	// Per-camera pipeline metrics.
	AttemptsTotal     *prometheus.CounterVec // labels: outcome={success,failed,error}
	PipelinesInFlight prometheus.Gauge

	// Alerting metrics.
	AlertsFired        prometheus.Counter
	NotificationsTotal *prometheus.CounterVec // labels: kind={push,email}, outcome={sent,failed,dropped}

	// Retention metrics.
	RowsSwept *prometheus.CounterVec // labels: table
}

// NewMetrics creates and registers all scan-engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainvision",
			Name:      "scan_cycles_total",
			Help:      "Scan cycles by terminal status; skipped means the overlap guard rejected the tick.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rainvision",
			Name:      "scan_cycle_duration_seconds",
			Help:      "Duration of a complete scan-all-cameras cycle.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		ScanRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rainvision",
			Name:      "scan_running",
			Help:      "1 while a scan cycle is executing, 0 otherwise.",
		}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainvision",
			Name:      "scan_attempts_total",
			Help:      "Per-camera pipeline executions by outcome.",
		}, []string{"outcome"}),
		PipelinesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rainvision",
			Name:      "pipelines_in_flight",
			Help:      "Camera pipelines currently executing.",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainvision",
			Name:      "alerts_fired_total",
			Help:      "Rain alerts that passed the cooldown gate.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainvision",
			Name:      "notifications_total",
			Help:      "Notification intents by kind and delivery outcome.",
		}, []string{"kind", "outcome"}),
		RowsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainvision",
			Name:      "retention_rows_swept_total",
			Help:      "Rows deleted by the retention sweeper, per table.",
		}, []string{"table"}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.ScanRunning,
		m.AttemptsTotal,
		m.PipelinesInFlight,
		m.AlertsFired,
		m.NotificationsTotal,
		m.RowsSwept,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainvision", Name: "scan_cycles_total"}, []string{"status"}),
		CycleDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "rainvision", Name: "scan_cycle_duration_seconds"}),
		ScanRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "rainvision", Name: "scan_running"}),
		AttemptsTotal:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainvision", Name: "scan_attempts_total"}, []string{"outcome"}),
		PipelinesInFlight:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "rainvision", Name: "pipelines_in_flight"}),
		AlertsFired:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rainvision", Name: "alerts_fired_total"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainvision", Name: "notifications_total"}, []string{"kind", "outcome"}),
		RowsSwept:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainvision", Name: "retention_rows_swept_total"}, []string{"table"}),
	}
}
