package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Presence and typing metrics
var (
	PresenceHeartbeatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_heartbeat_total",
		Help: "Total number of heartbeats recorded",
	})

	PresenceStatusUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_status_updated_total",
		Help: "Total number of persisted status changes",
	}, []string{"status", "source"}) // source: "heartbeat", "manual", "sweep"

	PresenceSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_swept_total",
		Help: "Total number of users forced offline by the stale sweep",
	})

	PresenceSweepSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sweep_skipped_total",
		Help: "Total number of stale users kept because a heartbeat marker exists",
	})

	TypingStaleRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "typing_stale_removed_total",
		Help: "Total number of stale typing entries removed on read",
	})

	PresenceCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_cache_lookups_total",
		Help: "Total number of channel online-user cache lookups",
	}, []string{"result"}) // "hit", "miss"
)
