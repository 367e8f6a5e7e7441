package ops

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentra-iam/sentra/internal/observability"
)

func TestHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Metrics: observability.NewMetrics()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != `{"status":"ok"}` {
		t.Fatalf("healthz body = %q", got)
	}
}

func TestReadyzWithoutBackends(t *testing.T) {
	// Nil pool and client mean nothing to probe; readiness reports ready.
	router := NewRouter(RouterParams{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.RecordDecision(observability.OutcomeAllowed)
	router := NewRouter(RouterParams{Metrics: metrics})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, "sentra_decisions_total") {
		t.Fatalf("metrics body missing decisions counter:\n%s", body)
	}
}
