package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bcaldwell/plaid2qfx/pkg/exporter"
)

// Metrics bundles the export metrics served in scheduled mode.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	FilesTotal        prometheus.Counter
	TransactionsTotal prometheus.Counter
	WarningsTotal     *prometheus.CounterVec
	LastSuccess       prometheus.Gauge
}

// New constructs the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plaid2qfx_runs_total",
				Help: "Total export runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plaid2qfx_run_duration_seconds",
			Help:    "Export run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		FilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plaid2qfx_files_total",
			Help: "Total QFX files written",
		}),
		TransactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plaid2qfx_transactions_total",
			Help: "Total transactions written to QFX files",
		}),
		WarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plaid2qfx_warnings_total",
				Help: "Total data warnings by kind",
			},
			[]string{"kind"},
		),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plaid2qfx_last_success_timestamp_seconds",
			Help: "Unix time of the last successful export run",
		}),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.FilesTotal,
		m.TransactionsTotal,
		m.WarningsTotal,
		m.LastSuccess,
	)
	return m
}

// ObserveRun records the outcome of one export run. summary may be nil when
// the run failed before doing anything.
func (m *Metrics) ObserveRun(summary *exporter.Summary, err error, started, finished time.Time) {
	m.RunDuration.Observe(finished.Sub(started).Seconds())

	if summary != nil {
		m.FilesTotal.Add(float64(len(summary.Files)))
		m.TransactionsTotal.Add(float64(summary.Transactions))
		for _, w := range summary.Warnings {
			m.WarningsTotal.WithLabelValues(string(w.Kind)).Inc()
		}
	}

	m.RunsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, exporter.ErrUnknownItem):
		return "unknown_item"
	default:
		return "error"
	}
}
