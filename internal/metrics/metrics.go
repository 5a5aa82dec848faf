// Package metrics exposes Prometheus collectors for the HTTP API and the
// optimization pipeline on a dedicated registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ride-router/internal/models"
	"ride-router/internal/routing"
)

// Run outcomes
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics holds the registry and every collector registered on it
type Metrics struct {
	Registry *prometheus.Registry

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration records request durations in seconds
	HTTPDuration *prometheus.HistogramVec

	OptimizeRuns     *prometheus.CounterVec
	OptimizeDuration prometheus.Histogram
	RoutesBuilt      prometheus.Counter
	StaffRouted      prometheus.Counter
	StaffUnassigned  prometheus.Counter
	Warnings         *prometheus.CounterVec
}

// New creates a registry with the API and pipeline collectors plus the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
			[]string{"method", "path", "status"},
		),
		OptimizeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ride_router_optimize_runs_total", Help: "Optimization runs by outcome."},
			[]string{"outcome"},
		),
		OptimizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "ride_router_optimize_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10}},
		),
		RoutesBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ride_router_routes_built_total", Help: "Routes produced by successful runs."},
		),
		StaffRouted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ride_router_staff_routed_total", Help: "Staff placed on a route."},
		),
		StaffUnassigned: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ride_router_staff_unassigned_total", Help: "Staff reported as unassigned."},
		),
		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ride_router_warnings_total", Help: "Run warnings by kind."},
			[]string{"kind"},
		),
	}

	m.Registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.OptimizeRuns,
		m.OptimizeDuration,
		m.RoutesBuilt,
		m.StaffRouted,
		m.StaffUnassigned,
		m.Warnings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveRun records one optimization run
func (m *Metrics) ObserveRun(result *models.Result, err error) {
	if err != nil {
		var invalid *routing.ErrInvalidInput
		if errors.As(err, &invalid) {
			m.OptimizeRuns.WithLabelValues(OutcomeInvalid).Inc()
		} else {
			m.OptimizeRuns.WithLabelValues(OutcomeError).Inc()
		}
		return
	}

	m.OptimizeRuns.WithLabelValues(OutcomeOK).Inc()
	if result == nil {
		return
	}
	m.OptimizeDuration.Observe(result.Duration.Seconds())
	m.RoutesBuilt.Add(float64(len(result.Routes)))
	m.StaffRouted.Add(float64(result.Summary.RoutedStaff))
	m.StaffUnassigned.Add(float64(len(result.Unassigned)))
	for _, w := range result.Warnings {
		m.Warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

// ObserveWarning counts a warning raised outside a run, such as a failed export
func (m *Metrics) ObserveWarning(kind models.WarningKind) {
	m.Warnings.WithLabelValues(string(kind)).Inc()
}

// Middleware records request counts and durations. The path label is the
// matched route pattern so that ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(srw.statusCode)
		m.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.statusCode = code
	s.ResponseWriter.WriteHeader(code)
}

var _ routing.Observer = (*Metrics)(nil)
