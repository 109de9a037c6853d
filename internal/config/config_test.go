package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NODE_ID", "node-a")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "node-a", cfg.Server.NodeID)
	assert.Equal(t, 100*time.Millisecond, cfg.SSE.ListenInterval)
	assert.Equal(t, 30*time.Second, cfg.SSE.HeartbeatInterval)
	assert.Equal(t, 3000, cfg.SSE.MessageRetry)
	assert.Equal(t, StatsBackendRedis, cfg.Stats.Backend)
	assert.True(t, cfg.Stats.SwitchDefault)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestLoadIntervalsAcceptSeconds(t *testing.T) {
	t.Setenv("LISTEN_INTERVAL", "0.5")
	t.Setenv("HEARTBEAT_INTERVAL", "10")
	t.Setenv("SSE_POLL_TIMEOUT", "25ms")

	cfg := Load()
	assert.Equal(t, 500*time.Millisecond, cfg.SSE.ListenInterval)
	assert.Equal(t, 10*time.Second, cfg.SSE.HeartbeatInterval)
	assert.Equal(t, 25*time.Millisecond, cfg.SSE.PollTimeout)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SSE_BUFFER_SIZE", "many")
	t.Setenv("SSE_SWITCH_DEFAULT", "maybe")
	t.Setenv("LISTEN_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, 64, cfg.SSE.BufferSize)
	assert.True(t, cfg.Stats.SwitchDefault)
	assert.Equal(t, 100*time.Millisecond, cfg.SSE.ListenInterval)
}

func TestValidate(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("SSE_STATS_BACKEND", "mongo")
		assert.Error(t, Load().Validate())
	})

	t.Run("sqlite backend", func(t *testing.T) {
		t.Setenv("SSE_STATS_BACKEND", "SQLite")
		cfg := Load()
		assert.Equal(t, StatsBackendSQLite, cfg.Stats.Backend)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("production requires secret", func(t *testing.T) {
		t.Setenv("ENV", "production")
		assert.Error(t, Load().Validate())

		t.Setenv("JWT_SECRET", "s3cret")
		assert.NoError(t, Load().Validate())
	})

	t.Run("zero listen interval", func(t *testing.T) {
		t.Setenv("LISTEN_INTERVAL", "0s")
		assert.Error(t, Load().Validate())
	})
}

func TestParseStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseStringSlice(" a, ,b "))
	assert.Empty(t, parseStringSlice(""))
}
