package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesDecisionCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordDecision(OutcomeAllowed)
	metrics.RecordDecision(OutcomeDenied)
	metrics.RecordCacheEvent(true)
	metrics.ObserveResolve("user", 25*time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "sentra_decisions_total{outcome=\"allowed\"} 1") {
		t.Fatalf("expected allowed decision counter, got: %s", body)
	}
	if !strings.Contains(body, "sentra_decisions_total{outcome=\"denied\"} 1") {
		t.Fatalf("expected denied decision counter, got: %s", body)
	}
	if !strings.Contains(body, "sentra_permission_cache_events_total{result=\"hit\"} 1") {
		t.Fatalf("expected cache hit counter, got: %s", body)
	}
	if !strings.Contains(body, "sentra_resolve_duration_seconds_bucket{actor=\"user\"") {
		t.Fatalf("expected resolve histogram, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/healthz")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "sentra_http_requests_total{code=\"418\",route=\"/healthz\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
}
