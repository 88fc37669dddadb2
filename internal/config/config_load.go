package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Reactions: defaultReactions(),
		Store: StoreConfig{
			Backend:         "memory",
			MaxEntries:      10000,
			Redis:           RedisConfig{Addr: "localhost:6379", Prefix: "reactd:"},
			CleanupSchedule: "*/10 * * * *",
		},
		Channels: ChannelsConfig{
			ThrottlePerSecond: 1,
			WhatsApp: WhatsAppConfig{
				Mode:       "cloud",
				APIVersion: "v21.0",
				BaseURL:    "https://graph.facebook.com",
			},
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18800,
			RateLimitRPM: 600,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "reactd",
			Path:      "/metrics",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "reactd",
		},
		Database: DatabaseConfig{AutoMigrate: true},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that parsing alone cannot catch.
func (c *Config) Validate() error {
	if err := c.Reactions.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "", "memory", "redis":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("store: postgres backend requires REACTD_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	switch c.Channels.WhatsApp.Mode {
	case "", "cloud", "bridge":
	default:
		return fmt.Errorf("channels.whatsapp: unknown mode %q", c.Channels.WhatsApp.Mode)
	}
	if d := c.Channels.Default; d != "" {
		enabled := false
		for _, name := range c.Channels.EnabledChannels() {
			if name == d {
				enabled = true
			}
		}
		if !enabled {
			return fmt.Errorf("channels: default channel %q is not enabled", d)
		}
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("REACTD_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("REACTD_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("REACTD_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("REACTD_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("REACTD_WHATSAPP_ACCESS_TOKEN", &c.Channels.WhatsApp.AccessToken)
	envStr("REACTD_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("REACTD_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("REACTD_REDIS_PASSWORD", &c.Store.Redis.Password)
	envStr("REACTD_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}

	envStr("REACTD_HOST", &c.Gateway.Host)
	if v := os.Getenv("REACTD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	envStr("REACTD_STORE", &c.Store.Backend)
	envStr("REACTD_REDIS_ADDR", &c.Store.Redis.Addr)
	envStr("REACTD_CHANNEL_DEFAULT", &c.Channels.Default)
	envStr("REACTD_REACTION_LEVEL", &c.Reactions.Level)

	// Telemetry
	if v := os.Getenv("REACTD_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("REACTD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("REACTD_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("REACTD_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("REACTD_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("REACTD_TELEMETRY_HEADERS"); v != "" {
		c.Telemetry.Headers = parseHeaders(v)
	}
}

// parseHeaders reads "k1=v1,k2=v2".
func parseHeaders(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Secret fields are excluded from JSON, so the copy carries them over by hand.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	cp.Gateway.Token = c.Gateway.Token
	cp.Channels.Telegram.Token = c.Channels.Telegram.Token
	cp.Channels.Discord.Token = c.Channels.Discord.Token
	cp.Channels.Slack.BotToken = c.Channels.Slack.BotToken
	cp.Channels.WhatsApp.AccessToken = c.Channels.WhatsApp.AccessToken
	cp.Channels.Feishu.AppSecret = c.Channels.Feishu.AppSecret
	cp.Store.Redis.Password = c.Store.Redis.Password
	cp.Database.PostgresDSN = c.Database.PostgresDSN

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Slack.BotToken)
	maskNonEmpty(&cp.Channels.WhatsApp.AccessToken)
	maskNonEmpty(&cp.Channels.Feishu.AppSecret)
	maskNonEmpty(&cp.Store.Redis.Password)
	maskNonEmpty(&cp.Database.PostgresDSN)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
