// Package metrics exposes Prometheus instruments for the sync pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "integration_syncer"

type Metrics struct {
	syncsTotal        *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	endpointsTotal    *prometheus.CounterVec
	recordsTotal      *prometheus.CounterVec
	schedulerRuns     *prometheus.CounterVec
	connectionResults *prometheus.CounterVec
	healthTransitions *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		syncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Connection syncs by provider and result.",
		}, []string{"provider", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of connection syncs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
		endpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_fetches_total",
			Help:      "Endpoint fetches by provider, data type and result.",
		}, []string{"provider", "data_type", "result"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Upserted records by provider and outcome.",
		}, []string{"provider", "outcome"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler batch invocations by trigger.",
		}, []string{"trigger"}),
		connectionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_connections_total",
			Help:      "Connections handled by the scheduler by result.",
		}, []string{"result"}),
		healthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Connections entering or leaving the error state.",
		}, []string{"transition"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.syncsTotal,
		m.syncDuration,
		m.endpointsTotal,
		m.recordsTotal,
		m.schedulerRuns,
		m.connectionResults,
		m.healthTransitions,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) ObserveSync(providerID string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.syncsTotal.WithLabelValues(providerID, result(success)).Inc()
	m.syncDuration.WithLabelValues(providerID).Observe(d.Seconds())
}

func (m *Metrics) ObserveEndpoint(providerID, dataType string, success bool) {
	if m == nil {
		return
	}
	m.endpointsTotal.WithLabelValues(providerID, dataType, result(success)).Inc()
}

func (m *Metrics) ObserveRecord(providerID, outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(providerID, outcome).Inc()
}

func (m *Metrics) ObserveRun(trigger string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(trigger).Inc()
}

// ObserveConnection counts a scheduler outcome: success, failure or skipped.
func (m *Metrics) ObserveConnection(res string) {
	if m == nil {
		return
	}
	m.connectionResults.WithLabelValues(res).Inc()
}

// ObserveTransition counts "recovered" and "tripped" health transitions.
func (m *Metrics) ObserveTransition(kind string) {
	if m == nil {
		return
	}
	m.healthTransitions.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unknown_route"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
