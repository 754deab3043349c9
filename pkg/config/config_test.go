package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cockroach", cfg.Store.Driver)
	assert.Equal(t, "redis", cfg.Store.Scheduler)
	assert.Empty(t, cfg.Store.SeedFile)
	assert.Equal(t, time.Minute, cfg.Store.CleanupInterval)
	assert.Equal(t, 30*time.Second, cfg.Call.DirectRingTimeout)
	assert.Equal(t, 60*time.Second, cfg.Call.GroupRingTimeout)
	assert.Equal(t, 50, cfg.Call.MaxInvitees)
	assert.Equal(t, 5*time.Minute, cfg.Presence.OnlineThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Presence.AwayThreshold)
	assert.Equal(t, []string{"redis", "log"}, cfg.Events.Sinks)
}

func TestLoad_FromEnvironment(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(secretFile, []byte(strings.Repeat("s", 40)+"\n"), 0o600))

	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET_FILE", secretFile)
	t.Setenv("STORE_DRIVER", "cockroach")
	t.Setenv("SCHEDULER_DRIVER", "timer")
	t.Setenv("EVENT_SINKS", "nats, log,")
	t.Setenv("CALL_GROUP_RING_TIMEOUT", "45s")
	t.Setenv("DB_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("s", 40), cfg.JWT.Secret)
	assert.Equal(t, "timer", cfg.Store.Scheduler)
	assert.False(t, cfg.Store.Migrate)
	assert.Equal(t, []string{"nats", "log"}, cfg.Events.Sinks)
	assert.Equal(t, 45*time.Second, cfg.Call.GroupRingTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"production without secret", map[string]string{"ENV": "production"}, "JWT_SECRET must be set"},
		{"short secret", map[string]string{"ENV": "production", "JWT_SECRET": "short"}, "at least 32 characters"},
		{"memory store in production", map[string]string{"ENV": "production", "JWT_SECRET": strings.Repeat("x", 32), "STORE_DRIVER": "memory"}, "not allowed in production"},
		{"memory cleanup disabled", map[string]string{"STORE_DRIVER": "memory", "MEMORY_CLEANUP_INTERVAL": "0s"}, "MEMORY_CLEANUP_INTERVAL"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}, "unknown STORE_DRIVER"},
		{"unknown scheduler", map[string]string{"SCHEDULER_DRIVER": "cron"}, "unknown SCHEDULER_DRIVER"},
		{"away below online", map[string]string{"PRESENCE_AWAY_THRESHOLD": "1m"}, "0 < online < away"},
		{"typing ttl below stale window", map[string]string{"PRESENCE_TYPING_TTL": "1s"}, "typing TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
