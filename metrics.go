package anvilbridge

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector records request pipeline metrics. A nil *MetricsCollector is valid and
// records nothing.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	throttledTotal  prometheus.Counter
	limiterWait     prometheus.Histogram
	limiterTokens   prometheus.Gauge
	uploadsTotal    *prometheus.CounterVec
	transportErrors prometheus.Counter
}

// NewMetricsCollector registers the client metrics on registry.
func NewMetricsCollector(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_requests_total",
				Help: "Physical HTTP attempts made to the Anvil API",
			},
			[]string{"method", "status_code"},
		),
		throttledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "anvil_throttled_total",
			Help: "Attempts answered with 429 and scheduled for retry",
		}),
		limiterWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anvil_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10},
		}),
		limiterTokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "anvil_rate_limiter_tokens",
			Help: "Tokens available after the last acquisition",
		}),
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_uploads_total",
				Help: "Files attached to GraphQL multipart requests",
			},
			[]string{"kind"},
		),
		transportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "anvil_transport_errors_total",
			Help: "Attempts that failed below HTTP semantics",
		}),
	}
}

func (m *MetricsCollector) recordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *MetricsCollector) recordThrottle() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}

func (m *MetricsCollector) recordLimiterWait(d time.Duration, tokens float64) {
	if m == nil {
		return
	}
	m.limiterWait.Observe(d.Seconds())
	m.limiterTokens.Set(tokens)
}

func (m *MetricsCollector) recordUpload(kind string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(kind).Inc()
}

func (m *MetricsCollector) recordTransportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}
