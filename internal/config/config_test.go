package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/reactions"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, reactions.DefaultLimits(), cfg.Reactions.Limits())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "*/10 * * * *", cfg.Store.CleanupSchedule)
	assert.Equal(t, 18800, cfg.Gateway.Port)

	s, err := cfg.Reactions.Settings()
	require.NoError(t, err)
	assert.Equal(t, reactions.LevelFull, s.Level)
	assert.Equal(t, 24*time.Hour, s.HistoryTTL)
	assert.Equal(t, 30*24*time.Hour, s.CounterTTL)
	assert.Equal(t, 5*time.Second, s.SendTimeout)
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, `{
		// comments and trailing commas are fine
		reactions: {
			level: "minimal",
			per_minute: 3,
			user_cooldown_ms: 0,
			catalog: {
				general_state: { thinking: "🧠", error: "" },
			},
			flows: {
				quick_flow: [{ emoji: "👀" }, { emoji: "✅", delay_ms: 250 }],
			},
		},
		channels: {
			default: "telegram",
			telegram: { enabled: true, allow_from: [12345, "alice"] },
		},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	limits := cfg.Reactions.Limits()
	assert.Equal(t, 3, limits.MaxPerMinute)
	assert.Equal(t, 200, limits.MaxPerHour, "unset fields keep defaults")
	assert.Zero(t, limits.UserCooldown)
	assert.Equal(t, FlexibleStringSlice{"12345", "alice"}, cfg.Channels.Telegram.AllowFrom)

	s, err := cfg.Reactions.Settings()
	require.NoError(t, err)
	assert.Equal(t, reactions.LevelMinimal, s.Level)
	emoji, ok := s.Catalog.Lookup(reactions.CategoryGeneralState, "thinking")
	assert.True(t, ok)
	assert.Equal(t, "🧠", emoji)
	_, ok = s.Catalog.Lookup(reactions.CategoryGeneralState, "error")
	assert.False(t, ok)

	flows, err := cfg.Reactions.FlowTable()
	require.NoError(t, err)
	require.Contains(t, flows, "quick_flow")
	require.Contains(t, flows, "order_flow")
	assert.Equal(t, 250*time.Millisecond, flows["quick_flow"].Duration())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"parse error":      `{ reactions: `,
		"unknown level":    `{ reactions: { level: "loud" } }`,
		"unknown category": `{ reactions: { catalog: { moods: { a: "b" } } } }`,
		"zero stage delay": `{ reactions: { flows: { f: [{ emoji: "a" }, { emoji: "b" }] } } }`,
		"bad ttl":          `{ reactions: { history_ttl: "forever" } }`,
		"unknown backend":  `{ store: { backend: "cassandra" } }`,
		"postgres no dsn":  `{ store: { backend: "postgres" } }`,
		"default disabled": `{ channels: { default: "discord" } }`,
		"whatsapp mode":    `{ channels: { whatsapp: { mode: "sms" } } }`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REACTD_TELEGRAM_TOKEN", "tg-secret")
	t.Setenv("REACTD_GATEWAY_TOKEN", "gw-secret")
	t.Setenv("REACTD_PORT", "9999")
	t.Setenv("REACTD_STORE", "redis")
	t.Setenv("REACTD_REDIS_ADDR", "redis:6379")
	t.Setenv("REACTD_TELEMETRY_ENABLED", "true")
	t.Setenv("REACTD_TELEMETRY_HEADERS", "x-api-key=abc, x-team = ops")

	cfg, err := Load(writeConfig(t, `{ gateway: { port: 1234 } }`))
	require.NoError(t, err)

	assert.Equal(t, "tg-secret", cfg.Channels.Telegram.Token)
	assert.True(t, cfg.Channels.Telegram.Enabled, "token in env enables the channel")
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, map[string]string{"x-api-key": "abc", "x-team": "ops"}, cfg.Telemetry.Headers)
}

func TestFeishuNeedsBothCredentials(t *testing.T) {
	t.Setenv("REACTD_FEISHU_APP_ID", "cli_a1")
	cfg, err := Load(writeConfig(t, `{ channels: { feishu: { domain: "feishu" } } }`))
	require.NoError(t, err)
	assert.False(t, cfg.Channels.Feishu.Enabled)

	t.Setenv("REACTD_FEISHU_APP_SECRET", "lark-secret")
	cfg, err = Load(writeConfig(t, `{ channels: { feishu: { domain: "feishu" } } }`))
	require.NoError(t, err)
	assert.True(t, cfg.Channels.Feishu.Enabled)
	assert.Equal(t, "feishu", cfg.Channels.Feishu.Domain)
	assert.Contains(t, cfg.Channels.EnabledChannels(), "feishu")
	assert.Equal(t, secretMask, cfg.MaskedCopy().Channels.Feishu.AppSecret)
}

func TestSecretsNeverReadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{ channels: { discord: { enabled: true, token: "leaked" } } }`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Channels.Discord.Token)
}

func TestMaskedCopy(t *testing.T) {
	t.Setenv("REACTD_DISCORD_TOKEN", "discord-secret")
	t.Setenv("REACTD_POSTGRES_DSN", "postgres://u:p@db/reactd")

	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	masked := cfg.MaskedCopy()
	assert.Equal(t, secretMask, masked.Channels.Discord.Token)
	assert.Equal(t, secretMask, masked.Database.PostgresDSN)
	assert.Empty(t, masked.Channels.Telegram.Token, "empty secrets stay empty")
	assert.Equal(t, "discord-secret", cfg.Channels.Discord.Token, "original untouched")
}

func TestHashIgnoresSecrets(t *testing.T) {
	a := Default()
	b := Default()
	b.Gateway.Token = "changed"
	assert.Equal(t, a.Hash(), b.Hash())

	b.Reactions.PerHour = 1
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestReplaceFrom(t *testing.T) {
	dst := Default()
	src := Default()
	src.Reactions.Level = "off"
	src.Gateway.Port = 1

	dst.ReplaceFrom(src)
	assert.Equal(t, "off", dst.ReactionsSnapshot().Level)
	assert.Equal(t, 1, dst.Gateway.Port)
}
