package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_request_timeout_total",
		Help: "Total number of HTTP requests that exceeded their deadline",
	}, []string{"method", "endpoint"})
)

// RecordRequestTimeout records a request that ran past its deadline
func RecordRequestTimeout(method, endpoint string) {
	RequestTimeoutTotal.WithLabelValues(method, endpoint).Inc()
}
