package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/admin/users/{userID}/roles")

	req := httptest.NewRequest(http.MethodGet, "/admin/users/7/roles", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `portal_http_requests_total{code="418",route="/admin/users/{userID}/roles"} 1`)
	assert.Contains(t, body, `portal_http_request_duration_seconds_bucket{route="/admin/users/{userID}/roles"`)
}

func TestRecordDecisionLabelsResult(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordDecision("RequireViewUsersPermission", true)
	metrics.RecordDecision("RequireViewUsersPermission", false)
	metrics.RecordDecision("RequireViewUsersPermission", false)
	metrics.RecordLockContention()

	body := scrape(t, metrics)
	assert.Contains(t, body, `portal_authz_decisions_total{policy="RequireViewUsersPermission",result="allow"} 1`)
	assert.Contains(t, body, `portal_authz_decisions_total{policy="RequireViewUsersPermission",result="deny"} 2`)
	assert.Contains(t, body, "portal_rbac_lock_contention_total 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("x", true)
	m.RecordLockContention()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	body := scrape(t, metrics)
	assert.Contains(t, body, `portal_http_requests_total{code="200",route="unmatched"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
