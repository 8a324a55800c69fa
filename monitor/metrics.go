package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ActiveRuns      prometheus.Gauge
	SandboxBoots    *prometheus.CounterVec
	PackageInstalls *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codecell",
				Name:      "runs_total",
				Help:      "Total number of runs by language and terminal status.",
			},
			[]string{"language", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codecell",
				Name:      "run_duration_seconds",
				Help:      "Duration of runs from dispatch to terminal status.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"language"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "codecell",
				Name:      "active_runs",
				Help:      "Number of runs that have not reached a terminal status.",
			},
		),

		SandboxBoots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codecell",
				Name:      "sandbox_boots_total",
				Help:      "Sandbox boots by backend family and result.",
			},
			[]string{"family", "result"},
		),

		PackageInstalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codecell",
				Name:      "package_installs_total",
				Help:      "Python package installation attempts by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ActiveRuns,
		m.SandboxBoots,
		m.PackageInstalls,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a run that reached its terminal status.
func (m *Metrics) RunFinished(language, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(language, status).Inc()
	m.RunDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordBoot records the outcome of a sandbox boot.
func (m *Metrics) RecordBoot(family string, err error) {
	if m == nil {
		return
	}
	m.SandboxBoots.WithLabelValues(family, result(err)).Inc()
}

// RecordInstall records a package installation attempt.
func (m *Metrics) RecordInstall(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.PackageInstalls.WithLabelValues("success").Inc()
		return
	}
	m.PackageInstalls.WithLabelValues("failure").Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
