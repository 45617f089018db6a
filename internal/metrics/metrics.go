// Package metrics exposes Prometheus metrics for the store client, the
// outbox and the local HTTP API on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ttcrm"

type Metrics struct {
	registry *prometheus.Registry

	storeRequests *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	outboxJobs    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		storeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Requests sent to the record store.",
		}, []string{"method", "collection", "status"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Latency of record store requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "collection"}),
		outboxJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_job_attempts_total",
			Help:      "Outbox job attempts by job type and outcome.",
		}, []string{"type", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the local API.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of local API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStore records one record store request. Its signature matches
// pocketbase.Observer. Status 0 stands for a transport failure.
func (m *Metrics) ObserveStore(method, collection string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	if status == 0 {
		code = "error"
	}
	m.storeRequests.WithLabelValues(method, collection, code).Inc()
	m.storeDuration.WithLabelValues(method, collection).Observe(elapsed.Seconds())
}

// ObserveJob records one outbox attempt. Its signature matches
// outbox.Observer.
func (m *Metrics) ObserveJob(jobType, outcome string) {
	m.outboxJobs.WithLabelValues(jobType, outcome).Inc()
}

// Middleware counts API requests by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
