package config

import (
	"fmt"
	"time"

	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Events   EventsConfig
	JWT      JWTConfig
	Log      LogConfig
	Call     CallConfig
	Presence PresenceConfig
	Limits   RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port             int
	Environment      string // development, staging, production
	ServiceName      string
	AllowedOrigins   []string
	MaxWSConnections int
	RequestTimeout   time.Duration
}

// StoreConfig selects the persistence backends
type StoreConfig struct {
	Driver    string // cockroach, memory
	Scheduler string // redis, timer
	Migrate   bool

	// Memory driver only
	SeedFile        string
	CleanupInterval time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host                string
	Port                int
	Password            string
	DB                  int
	PoolSize            int
	Timeout             time.Duration
	HealthCheckInterval time.Duration
}

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	Servers        []string
	Name           string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// EventsConfig selects where domain events are published
type EventsConfig struct {
	Sinks []string // redis, nats, log
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	Audience          string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// CallConfig holds call session timing
type CallConfig struct {
	DirectRingTimeout  time.Duration
	GroupRingTimeout   time.Duration
	MaxInvitees        int
	SchedulerPoll      time.Duration
	SchedulerRetryWait time.Duration
}

// PresenceConfig holds presence and typing thresholds
type PresenceConfig struct {
	HeartbeatTTL     time.Duration
	RecordTTL        time.Duration
	TypingTTL        time.Duration
	TypingStaleAfter time.Duration
	OnlineThreshold  time.Duration
	AwayThreshold    time.Duration
	OnlineUsersCache time.Duration
	SweepInterval    time.Duration
}

// RateLimitConfig bounds write-heavy presence endpoints per user
type RateLimitConfig struct {
	PresenceWrites int
	Window         time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:             env.GetInt("PORT", 8085),
			Environment:      env.GetString("ENV", "development"),
			ServiceName:      env.GetString("SERVICE_NAME", "call-service"),
			AllowedOrigins:   env.GetStringSlice("WS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxWSConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
			RequestTimeout:   env.GetDuration("REQUEST_TIMEOUT", constants.DefaultTimeout),
		},
		Store: StoreConfig{
			Driver:    env.GetString("STORE_DRIVER", "cockroach"),
			Scheduler: env.GetString("SCHEDULER_DRIVER", "redis"),
			Migrate:   env.GetBool("DB_MIGRATE", true),

			SeedFile:        env.GetString("MEMORY_SEED_FILE", ""),
			CleanupInterval: env.GetDuration("MEMORY_CLEANUP_INTERVAL", time.Minute),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "teamchat"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:                env.GetString("REDIS_HOST", "localhost"),
			Port:                env.GetInt("REDIS_PORT", 6379),
			Password:            env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:                  env.GetInt("REDIS_DB", 0),
			PoolSize:            env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:             env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
			HealthCheckInterval: env.GetDuration("REDIS_HEALTH_INTERVAL", 10*time.Second),
		},
		NATS: NATSConfig{
			Servers:        env.GetStringSlice("NATS_SERVERS", []string{"nats://127.0.0.1:4222"}),
			Name:           env.GetString("NATS_NAME", "call-service"),
			ConnectTimeout: env.GetDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
			MaxReconnects:  env.GetInt("NATS_MAX_RECONNECTS", 60),
			ReconnectWait:  env.GetDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Events: EventsConfig{
			Sinks: env.GetStringSlice("EVENT_SINKS", []string{"redis", "log"}),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			Audience:          env.GetString("JWT_AUDIENCE", "teamchat-api"),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Call: CallConfig{
			DirectRingTimeout:  env.GetDuration("CALL_DIRECT_RING_TIMEOUT", 30*time.Second),
			GroupRingTimeout:   env.GetDuration("CALL_GROUP_RING_TIMEOUT", 60*time.Second),
			MaxInvitees:        env.GetInt("CALL_MAX_INVITEES", 50),
			SchedulerPoll:      env.GetDuration("CALL_SCHEDULER_POLL", 500*time.Millisecond),
			SchedulerRetryWait: env.GetDuration("CALL_SCHEDULER_RETRY_WAIT", 5*time.Second),
		},
		Presence: PresenceConfig{
			HeartbeatTTL:     env.GetDuration("PRESENCE_HEARTBEAT_TTL", 60*time.Second),
			RecordTTL:        env.GetDuration("PRESENCE_RECORD_TTL", time.Hour),
			TypingTTL:        env.GetDuration("PRESENCE_TYPING_TTL", 10*time.Second),
			TypingStaleAfter: env.GetDuration("PRESENCE_TYPING_STALE_AFTER", 5*time.Second),
			OnlineThreshold:  env.GetDuration("PRESENCE_ONLINE_THRESHOLD", 5*time.Minute),
			AwayThreshold:    env.GetDuration("PRESENCE_AWAY_THRESHOLD", 10*time.Minute),
			OnlineUsersCache: env.GetDuration("PRESENCE_ONLINE_CACHE_TTL", 60*time.Second),
			SweepInterval:    env.GetDuration("PRESENCE_SWEEP_INTERVAL", time.Minute),
		},
		Limits: RateLimitConfig{
			PresenceWrites: env.GetInt("RATE_LIMIT_PRESENCE_WRITES", 120),
			Window:         env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate JWT secret in production
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Store.Driver == "memory" {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	}

	switch c.Store.Driver {
	case "cockroach", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Store.Scheduler {
	case "redis", "timer":
	default:
		return fmt.Errorf("unknown SCHEDULER_DRIVER %q", c.Store.Scheduler)
	}

	if c.Store.Driver == "memory" && c.Store.CleanupInterval <= 0 {
		return fmt.Errorf("MEMORY_CLEANUP_INTERVAL must be positive")
	}

	if c.Call.DirectRingTimeout <= 0 || c.Call.GroupRingTimeout <= 0 {
		return fmt.Errorf("ring timeouts must be positive")
	}

	p := c.Presence
	if p.OnlineThreshold <= 0 || p.AwayThreshold <= p.OnlineThreshold {
		return fmt.Errorf("presence thresholds must satisfy 0 < online < away")
	}
	if p.TypingStaleAfter <= 0 || p.TypingTTL < p.TypingStaleAfter {
		return fmt.Errorf("typing TTL must be at least the typing stale window")
	}

	return nil
}
