package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Payment lifecycle metrics
	PaymentInitiateTotal   *prometheus.CounterVec
	PaymentTransitionTotal *prometheus.CounterVec
	CallbackTotal          *prometheus.CounterVec

	// Gateway call metrics
	GatewayRequestDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics, creating and registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		PaymentInitiateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_initiate_total",
			Help: "Payment initiation attempts by gateway and result",
		}, []string{"gateway", "result"}),

		PaymentTransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transition_total",
			Help: "Payment status transitions by gateway and target status",
		}, []string{"gateway", "status", "reason"}),

		CallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callback_total",
			Help: "Provider callbacks by gateway and result",
		}, []string{"gateway", "result"}),

		GatewayRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Provider API call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"gateway", "operation", "result"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"}),
	}

	m.HTTPRequestTotal = registerOrGet(m.HTTPRequestTotal).(*prometheus.CounterVec)
	m.HTTPRequestDuration = registerOrGet(m.HTTPRequestDuration).(*prometheus.HistogramVec)
	m.PaymentInitiateTotal = registerOrGet(m.PaymentInitiateTotal).(*prometheus.CounterVec)
	m.PaymentTransitionTotal = registerOrGet(m.PaymentTransitionTotal).(*prometheus.CounterVec)
	m.CallbackTotal = registerOrGet(m.CallbackTotal).(*prometheus.CounterVec)
	m.GatewayRequestDuration = registerOrGet(m.GatewayRequestDuration).(*prometheus.HistogramVec)
	m.EventPublishTotal = registerOrGet(m.EventPublishTotal).(*prometheus.CounterVec)
	m.RateLimitedTotal = registerOrGet(m.RateLimitedTotal).(*prometheus.CounterVec)

	globalMetrics = m
	return m
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
