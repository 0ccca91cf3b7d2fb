package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is the control server's environment-driven configuration.
type Config struct {
	Host     string
	Port     int
	LogLevel string

	AllowedOrigins []string

	HistorySize      int
	SnapshotInterval time.Duration
	PublishInterval  time.Duration
	WSPingInterval   time.Duration

	// CollectorURL, when set, mirrors every snapshot and report to an
	// external collector endpoint in addition to the websocket stream.
	CollectorURL string

	// MonitorResources toggles host CPU/memory sampling per run.
	MonitorResources bool
}

// LoadConfig reads configuration from the environment, loading a .env
// file first if one is present. Missing or malformed values fall back
// to defaults.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	return Config{
		Host:             envOr("SERVER_HOST", "127.0.0.1"),
		Port:             envInt("SERVER_PORT", 3001),
		LogLevel:         envOr("LOG_LEVEL", ""),
		AllowedOrigins:   envList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		HistorySize:      envInt("TEST_HISTORY_SIZE", 100),
		SnapshotInterval: envDuration("SNAPSHOT_INTERVAL_MS", 500*time.Millisecond),
		PublishInterval:  envDuration("PUBLISH_INTERVAL_MS", time.Second),
		WSPingInterval:   envDuration("WS_PING_INTERVAL_MS", 30*time.Second),
		CollectorURL:     envOr("COLLECTOR_URL", ""),
		MonitorResources: envBool("MONITOR_RESOURCES", true),
	}
}

// Addr returns the host:port the server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warnf("invalid %s=%q, using %v", key, v, def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Warnf("invalid %s=%q, using %s", key, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envList(key, def string) []string {
	raw := envOr(key, def)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
