package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cfdilab/cfdilab/internal/cfdi"
)

var _ cfdi.MetricsPort = (*Metrics)(nil)

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
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/comprobantes/{uuid}")

	req := httptest.NewRequest(http.MethodGet, "/comprobantes/abc", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `cfdilab_http_requests_total{code="418",route="/comprobantes/{uuid}"} 1`)
	require.Contains(t, body, `cfdilab_http_request_duration_seconds_bucket{route="/comprobantes/{uuid}"`)
}

func TestLedgerCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.DocumentCreated("PUE")
	metrics.DocumentCreated("PPD")
	metrics.DocumentCreated("PPD")
	metrics.PaymentApplied()
	metrics.PaymentRejected("overpayment")
	metrics.PaymentRejected("overpayment")
	metrics.DocumentCancelled()

	body := scrape(t, metrics)
	for _, line := range []string{
		`cfdilab_documents_created_total{mode="PPD"} 2`,
		`cfdilab_documents_created_total{mode="PUE"} 1`,
		`cfdilab_payments_applied_total 1`,
		`cfdilab_payments_rejected_total{reason="overpayment"} 2`,
		`cfdilab_documents_cancelled_total 1`,
	} {
		require.True(t, strings.Contains(body, line), "missing %q", line)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.PaymentApplied()
	metrics.PaymentRejected("duplicate")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRoutePatternTrimsTrailingSlash(t *testing.T) {
	cases := map[string]string{
		"":                     "unknown",
		"/":                    "/",
		"/comprobantes/":       "/comprobantes",
		"/comprobantes/{uuid}": "/comprobantes/{uuid}",
		"/comprobantes/*":      "/comprobantes/*",
	}
	for pattern, want := range cases {
		routeCtx := chi.NewRouteContext()
		if pattern != "" {
			routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, pattern)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
		require.Equal(t, want, routePattern(req), pattern)
	}
}
