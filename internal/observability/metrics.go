package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API and the payment ledger.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	paymentsApplied    prometheus.Counter
	paymentsRejected   *prometheus.CounterVec
	documentsCreated   *prometheus.CounterVec
	documentsCancelled prometheus.Counter
}

// NewMetrics builds a private registry with the HTTP and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfdilab_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfdilab_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfdilab_payments_applied_total",
		Help: "Payments accepted by the ledger.",
	})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfdilab_payments_rejected_total",
		Help: "Payments rejected by the ledger, by reason.",
	}, []string{"reason"})
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfdilab_documents_created_total",
		Help: "Documents created, by settlement mode.",
	}, []string{"mode"})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfdilab_documents_cancelled_total",
		Help: "Documents cancelled.",
	})
	registry.MustRegister(requests, duration, applied, rejected, created, cancelled)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		paymentsApplied:    applied,
		paymentsRejected:   rejected,
		documentsCreated:   created,
		documentsCancelled: cancelled,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every request under its chi route pattern.
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

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func (m *Metrics) DocumentCreated(mode string) {
	if m == nil {
		return
	}
	m.documentsCreated.WithLabelValues(mode).Inc()
}

func (m *Metrics) DocumentCancelled() {
	if m == nil {
		return
	}
	m.documentsCancelled.Inc()
}

func (m *Metrics) PaymentApplied() {
	if m == nil {
		return
	}
	m.paymentsApplied.Inc()
}

func (m *Metrics) PaymentRejected(reason string) {
	if m == nil {
		return
	}
	m.paymentsRejected.WithLabelValues(reason).Inc()
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
			if len(pattern) > 1 {
				pattern = strings.TrimSuffix(pattern, "/")
			}
			return pattern
		}
	}
	return "unknown"
}
