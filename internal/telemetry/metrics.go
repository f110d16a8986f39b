// Package telemetry exposes Prometheus metrics for simulation runs and the HTTP API.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every quantlab collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunsActive      prometheus.Gauge
	IterationsTotal *prometheus.CounterVec
	IterationTime   *prometheus.HistogramVec
	RunDuration     *prometheus.HistogramVec

	OptimizationsTotal *prometheus.CounterVec
	ReportsArchived    prometheus.Counter
	ReportsDeleted     prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors, plus the Go runtime and process collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_runs_total",
				Help: "Total number of finished driver runs by driver and status",
			},
			[]string{"driver", "status"},
		),
		RunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quantlab_runs_active",
				Help: "Number of driver runs in progress",
			},
		),
		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_iterations_total",
				Help: "Total number of iterations by driver and outcome",
			},
			[]string{"driver", "outcome"},
		),
		IterationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantlab_iteration_duration_seconds",
				Help:    "Duration of one partition/fit/predict/score cycle",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"driver"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantlab_run_duration_seconds",
				Help:    "Wall-clock duration of driver runs",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"driver"},
		),
		OptimizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_optimizations_total",
				Help: "Total number of optimizer invocations by method and status",
			},
			[]string{"method", "status"},
		),
		ReportsArchived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quantlab_reports_archived_total",
				Help: "Total number of reports uploaded to the archive",
			},
		),
		ReportsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quantlab_reports_deleted_total",
				Help: "Total number of reports removed by retention",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantlab_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.RunsActive,
		m.IterationsTotal,
		m.IterationTime,
		m.RunDuration,
		m.OptimizationsTotal,
		m.ReportsArchived,
		m.ReportsDeleted,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted implements simulation.Recorder
func (m *Metrics) RunStarted(driver string) {
	m.RunsActive.Inc()
}

// IterationFinished implements simulation.Recorder
func (m *Metrics) IterationFinished(driver, outcome string, elapsed time.Duration) {
	m.IterationsTotal.WithLabelValues(driver, outcome).Inc()
	m.IterationTime.WithLabelValues(driver).Observe(elapsed.Seconds())
}

// RunFinished implements simulation.Recorder
func (m *Metrics) RunFinished(driver, status string, elapsed time.Duration) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(driver, status).Inc()
	m.RunDuration.WithLabelValues(driver).Observe(elapsed.Seconds())
}

// OptimizationFinished counts one optimizer call
func (m *Metrics) OptimizationFinished(method string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.OptimizationsTotal.WithLabelValues(method, status).Inc()
}

// ObserveHTTP records one served request; route is the matched pattern, not the raw path
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
