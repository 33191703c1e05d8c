// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service-level collectors. Progress-stream
// collectors live with the progress sinks.
type Metrics struct {
	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	activeWorkers prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors against the provided registry (or the
// default registerer when nil).
func New(reg *prometheus.Registry) (*Metrics, error) {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}

	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuagent_jobs_total",
			Help: "Finished jobs, partitioned by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docuagent_job_duration_seconds",
			Help:    "Wall time of one job run, queued to terminal.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docuagent_active_workers",
			Help: "Workers currently consuming the job queue.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuagent_http_requests_total",
			Help: "HTTP requests, partitioned by method, route and code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docuagent_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}
	collectors := []prometheus.Collector{
		m.jobsTotal, m.jobDuration, m.activeWorkers, m.httpRequests, m.httpDuration,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveJob records one finished job run.
func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// WorkerStarted and WorkerStopped track pool occupancy.
func (m *Metrics) WorkerStarted() { m.activeWorkers.Inc() }

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped() { m.activeWorkers.Dec() }

// Middleware records HTTP request metrics, labeled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
