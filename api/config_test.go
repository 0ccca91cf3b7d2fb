package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 3001, cfg.Port)
	require.Equal(t, "127.0.0.1:3001", cfg.Addr())
	require.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	require.Equal(t, 100, cfg.HistorySize)
	require.True(t, cfg.MonitorResources)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TEST_HISTORY_SIZE", "7")
	t.Setenv("SNAPSHOT_INTERVAL_MS", "250")
	t.Setenv("MONITOR_RESOURCES", "false")

	cfg := LoadConfig()
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 7, cfg.HistorySize)
	require.Equal(t, 250*time.Millisecond, cfg.SnapshotInterval)
	require.False(t, cfg.MonitorResources)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("SNAPSHOT_INTERVAL_MS", "-5")
	cfg := LoadConfig()
	require.Equal(t, 3001, cfg.Port)
	require.Equal(t, 500*time.Millisecond, cfg.SnapshotInterval)
}
