package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP and connection metrics of one service instance
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Redis Metrics
	redisCommandsTotal *prometheus.CounterVec
}

var (
	instance     *Metrics
	instanceOnce sync.Once
)

// NewMetrics creates and registers the service metrics. Metrics are registered
// with the default registry once per process; later calls return the same instance.
func NewMetrics(serviceName string) *Metrics {
	instanceOnce.Do(func() {
		labels := prometheus.Labels{"service": serviceName}
		instance = &Metrics{
			httpRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name:        "http_requests_total",
					Help:        "Total number of HTTP requests",
					ConstLabels: labels,
				},
				[]string{"method", "endpoint", "status"},
			),
			httpRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:        "http_request_duration_seconds",
					Help:        "HTTP request latency in seconds",
					ConstLabels: labels,
					Buckets:     prometheus.DefBuckets,
				},
				[]string{"method", "endpoint"},
			),
			httpRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name:        "http_requests_in_flight",
					Help:        "Current number of HTTP requests being processed",
					ConstLabels: labels,
				},
			),
			websocketConnections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name:        "websocket_connections",
					Help:        "Current number of open event stream connections",
					ConstLabels: labels,
				},
			),
			websocketMessagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name:        "websocket_messages_total",
					Help:        "Total number of WebSocket frames",
					ConstLabels: labels,
				},
				[]string{"type", "direction"},
			),
			websocketErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name:        "websocket_errors_total",
					Help:        "Total number of WebSocket errors",
					ConstLabels: labels,
				},
				[]string{"reason"},
			),
			redisCommandsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name:        "redis_commands_total",
					Help:        "Total number of Redis commands by outcome",
					ConstLabels: labels,
				},
				[]string{"command", "status"},
			),
		}
	})
	return instance
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// AddWebSocketConnections adjusts the open connection gauge by delta
func (m *Metrics) AddWebSocketConnections(delta int) {
	m.websocketConnections.Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket frame
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(reason string) {
	m.websocketErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordRedisCommand records a Redis command outcome
func (m *Metrics) RecordRedisCommand(command string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.redisCommandsTotal.WithLabelValues(command, status).Inc()
}
