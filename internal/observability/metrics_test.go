package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected body to contain runtime metrics, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
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
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestProxyOutcomeCounts(t *testing.T) {
	metrics := NewMetrics()
	metrics.ProxyOutcome("forwarded")
	metrics.ProxyOutcome("forwarded")
	metrics.ProxyOutcome("not_running")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `agora_proxy_requests_total{outcome="forwarded"} 2`) {
		t.Fatalf("expected forwarded count, got: %s", body)
	}
	if !strings.Contains(body, `agora_proxy_requests_total{outcome="not_running"} 1`) {
		t.Fatalf("expected not_running count, got: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.ProxyOutcome("forwarded")
}

func TestMiddlewarePreservesResponseController(t *testing.T) {
	metrics := NewMetrics()
	var flushErr error
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if flushErr != nil {
		t.Fatalf("expected flush through recorder, got: %v", flushErr)
	}
}

func TestProxyStartedTracksOpenStreams(t *testing.T) {
	metrics := NewMetrics()
	closeFirst := metrics.ProxyStarted("websocket")
	closeSecond := metrics.ProxyStarted("websocket")
	closeFirst()

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := rr.Body.String(); !strings.Contains(body, `agora_proxy_active_streams{kind="websocket"} 1`) {
		t.Fatalf("expected one open stream, got: %s", body)
	}
	closeSecond()

	var nilMetrics *Metrics
	nilMetrics.ProxyStarted("http")()
}
