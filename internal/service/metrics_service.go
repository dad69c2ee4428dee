package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clefworks/msm-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// continuation workflow. All methods are nil-safe so wiring stays optional in
// tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	runsCreated     prometheus.Counter
	emailsTotal     *prometheus.CounterVec
	responsesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuation_runs_created_total",
		Help: "Total continuation runs created",
	})

	emailsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuation_emails_total",
		Help: "Outbound continuation emails by kind and outcome",
	}, []string{"kind", "outcome"})

	responsesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuation_responses_total",
		Help: "Recorded continuation responses by intake method",
	}, []string{"method"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runsCreated, emailsTotal, responsesTotal, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runsCreated:     runsCreated,
		emailsTotal:     emailsTotal,
		responsesTotal:  responsesTotal,
		dbQueryDuration: dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRunCreated counts a newly built continuation run.
func (m *MetricsService) RecordRunCreated() {
	if m == nil {
		return
	}
	m.runsCreated.Inc()
}

// RecordContinuationEmail counts one outbound email attempt by outcome.
func (m *MetricsService) RecordContinuationEmail(kind models.MessageKind, delivered bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !delivered {
		outcome = "failed"
	}
	m.emailsTotal.WithLabelValues(string(kind), outcome).Inc()
}

// RecordContinuationResponse counts a recorded decision by intake method.
func (m *MetricsService) RecordContinuationResponse(method models.ResponseMethod) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(string(method)).Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
