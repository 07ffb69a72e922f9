// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcomes used as label values.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeCacheHit = "cache_hit"
)

// Metrics contains the application's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	predictionsRunning prometheus.Gauge

	uploadsCreated prometheus.Counter
	mailsSent      *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracture_predictions_total",
			Help: "Total number of prediction requests by outcome",
		},
		[]string{"outcome"},
	)
	m.predictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fracture_prediction_duration_seconds",
			Help:    "Time taken by the predictor",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
		},
	)
	m.predictionsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fracture_predictions_running",
		Help: "Predictions currently in flight",
	})
	m.uploadsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fracture_uploads_created_total",
		Help: "Total number of uploads stored",
	})
	m.mailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracture_mails_total",
			Help: "Outgoing mails by kind and status",
		},
		[]string{"kind", "status"},
	)

	for _, c := range []prometheus.Collector{
		m.httpRequestsTotal, m.httpRequestDuration,
		m.predictionsTotal, m.predictionDuration, m.predictionsRunning,
		m.uploadsCreated, m.mailsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				// render now so the recorded status is the one the client gets
				c.Error(err)
			}
			status := c.Response().Status
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// PredictionStarted marks a prediction in flight; the returned func records
// its outcome and duration.
func (m *Metrics) PredictionStarted() func(outcome string) {
	start := time.Now()
	m.predictionsRunning.Inc()
	return func(outcome string) {
		m.predictionsRunning.Dec()
		m.predictionsTotal.WithLabelValues(outcome).Inc()
		m.predictionDuration.Observe(time.Since(start).Seconds())
	}
}

// PredictionCacheHit counts a prediction served from the cache.
func (m *Metrics) PredictionCacheHit() {
	m.predictionsTotal.WithLabelValues(OutcomeCacheHit).Inc()
}

// UploadCreated counts a stored upload.
func (m *Metrics) UploadCreated() { m.uploadsCreated.Inc() }

// MailSent counts an outgoing mail attempt.
func (m *Metrics) MailSent(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.mailsSent.WithLabelValues(kind, status).Inc()
}
