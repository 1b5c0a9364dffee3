package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a per-process registry. It also satisfies the ledger
// pipeline observer, so the application layer reports outcomes through it.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds prometheus.ObserverVec
	OutboxEventsTotal          *prometheus.CounterVec
	JobsTotal                  *prometheus.CounterVec
	IdempotencyTotal           *prometheus.CounterVec
	AuditVerifyTotal           *prometheus.CounterVec
}

func New(serviceName string) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	outcome := func(name string, help string, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"service", label})
	}
	outbox := outcome("ledger_outbox_events_total", "Outbox delivery outcomes.", "outcome")
	jobs := outcome("ledger_jobs_total", "Work-queue job outcomes.", "outcome")
	idempotency := outcome("ledger_idempotency_total", "Idempotency guard decisions.", "outcome")
	verify := outcome("ledger_audit_verify_total", "Audit chain verification results.", "result")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requests,
		durations,
		outbox,
		jobs,
		idempotency,
		verify,
	)

	labels := prometheus.Labels{"service": serviceName}
	return &Metrics{
		registry:                   registry,
		HTTPRequestsTotal:          requests.MustCurryWith(labels),
		HTTPRequestDurationSeconds: durations.MustCurryWith(labels),
		OutboxEventsTotal:          outbox.MustCurryWith(labels),
		JobsTotal:                  jobs.MustCurryWith(labels),
		IdempotencyTotal:           idempotency.MustCurryWith(labels),
		AuditVerifyTotal:           verify.MustCurryWith(labels),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveIdempotency(outcome string) {
	m.IdempotencyTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOutbox(outcome string) {
	m.OutboxEventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveJob(outcome string) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAuditVerify(result string) {
	m.AuditVerifyTotal.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the matched chi
// route pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sr.status)).Inc()
		m.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
