package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the reactd service.
type Config struct {
	Reactions ReactionsConfig `json:"reactions"`
	Store     StoreConfig     `json:"store"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Metrics   MetricsConfig   `json:"metrics"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Database  DatabaseConfig  `json:"database"`
	mu        sync.RWMutex
}

// DatabaseConfig holds the Postgres connection used by the "postgres" store
// backend and the migrate command.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                      // from env REACTD_POSTGRES_DSN only
	AutoMigrate bool   `json:"auto_migrate,omitempty"` // run pending migrations on serve (default true)
}

// StoreConfig selects and tunes the reaction history backend.
type StoreConfig struct {
	Backend         string      `json:"backend,omitempty"`          // "memory" (default), "redis", "postgres"
	MaxEntries      int         `json:"max_entries,omitempty"`      // memory backend bound (default 10000)
	Redis           RedisConfig `json:"redis"`
	CleanupSchedule string      `json:"cleanup_schedule,omitempty"` // cron expression for expired-row purge (postgres only)
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"-"` // from env REACTD_REDIS_PASSWORD only
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"` // key prefix (default "reactd:")
}

// GatewayConfig controls the trigger RPC server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"`                         // from env REACTD_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket CORS whitelist (empty = allow all)
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // requests per minute per client (default 600, 0 = disabled)
}

// MetricsConfig controls the Prometheus endpoint served by the gateway.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"` // metric name prefix (default "reactd")
	Path      string `json:"path,omitempty"`      // HTTP path (default "/metrics")
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "reactd")
	SampleRate  float64           `json:"sample_rate,omitempty"`  // 0 or >= 1 samples everything
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reactions = src.Reactions
	c.Store = src.Store
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Metrics = src.Metrics
	c.Telemetry = src.Telemetry
	c.Database = src.Database
}

// ReactionsSnapshot returns a copy of the reactions section under the read lock.
func (c *Config) ReactionsSnapshot() ReactionsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reactions
}
