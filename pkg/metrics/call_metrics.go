package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call session metrics
var (
	CallInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_initiated_total",
		Help: "Total number of calls initiated",
	}, []string{"call_type", "channel_type"})

	CallsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_open",
		Help: "Number of ringing or active calls opened by this instance and not yet ended",
	})

	CallEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_ended_total",
		Help: "Total number of calls ended by reason",
	}, []string{"reason"}) // "ended", "auto_ended", "timeout", "rejected"

	CallTransitionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transition_rejected_total",
		Help: "Total number of call operations refused by a state or access rule",
	}, []string{"operation", "code"})

	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of calls that became active",
		Buckets: []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 28800},
	})

	CallTimeoutNoopTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_timeout_noop_total",
		Help: "Total number of ring timeouts that fired after the call progressed",
	})

	SchedulerTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_scheduler_tasks_total",
		Help: "Total number of scheduled ring timeouts by outcome",
	}, []string{"status"}) // "scheduled", "cancelled", "fired", "retried"

	// Event delivery metrics
	EventPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_published_total",
		Help: "Total number of domain events published by sink and outcome",
	}, []string{"sink", "status"})

	EventPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_publish_failed_total",
		Help: "Total number of domain events that could not be delivered after commit",
	}, []string{"type"})
)
