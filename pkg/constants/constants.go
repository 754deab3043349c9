// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute

	// DBConnectRetries is how many times startup dials the database
	DBConnectRetries = 5
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Ephemeral key prefixes
const (
	HeartbeatKeyPrefix     = "user_heartbeat:"
	PresenceKeyPrefix      = "user_presence:"
	TypingKeyPrefix        = "typing:channel:"
	ChannelOnlineKeyPrefix = "channel_online_users:"
	CallTimeoutTokenPrefix = "call_timeout:"
	SchedulerQueueKey      = "scheduler:call_timeouts"
)
