package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the authorization engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	decisionsTotal  *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics initialises the registry and the engine's base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_decisions_total",
		Help: "Permission decisions by outcome.",
	}, []string{"outcome"})
	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_permission_cache_events_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	resolve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_resolve_duration_seconds",
		Help:    "Effective permission set resolution duration per actor kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"actor"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_http_requests_total",
		Help: "Ops HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_http_request_duration_seconds",
		Help:    "Ops HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(decisions, cacheEvents, resolve, requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		decisionsTotal:  decisions,
		cacheEvents:     cacheEvents,
		resolveDuration: resolve,
		requestsTotal:   requests,
		requestDuration: duration,
	}
}

// Decision outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// RecordDecision counts one permission decision.
func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheEvent counts a cache hit or miss.
func (m *Metrics) RecordCacheEvent(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheEvents.WithLabelValues(result).Inc()
}

// ObserveResolve records how long one resolution took.
func (m *Metrics) ObserveResolve(actor string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(actor).Observe(elapsed.Seconds())
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each ops HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
