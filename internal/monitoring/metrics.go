// Package monitoring exposes the collector's Prometheus metrics.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AttemptsTotal *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_attempts_total",
			Help: "Collection attempts by terminal status",
		}, []string{"status"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_errors_total",
			Help: "Failed attempts by error code",
		}, []string{"type"}), // e.g. 'captcha', 'http_429', 'no_price'
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_stage_duration_seconds",
			Help:    "Extraction stage latency by method",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"method"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collector_queue_depth",
			Help: "Jobs currently in the queued state",
		}),
	}
}

func (m *Metrics) IncAttempt(status string) {
	m.AttemptsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveStage(method string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}
