package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Default  string         `json:"default,omitempty"` // channel used for recipients without a "<channel>:" prefix
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Feishu   FeishuConfig   `json:"feishu"`

	// ThrottlePerSecond caps outbound reaction calls per recipient
	// (default 1, 0 = disabled). It sits under the reaction guard and
	// protects platform APIs from bursts across engine restarts.
	ThrottlePerSecond float64 `json:"throttle_per_second,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env REACTD_TELEGRAM_TOKEN only
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
	IsBig     bool                `json:"is_big,omitempty"` // send reactions with the big animation
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env REACTD_DISCORD_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

type SlackConfig struct {
	Enabled   bool                `json:"enabled"`
	BotToken  string              `json:"-"` // from env REACTD_SLACK_BOT_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

type WhatsAppConfig struct {
	Enabled   bool                `json:"enabled"`
	Mode      string              `json:"mode,omitempty"` // "cloud" (default) or "bridge"
	AllowFrom FlexibleStringSlice `json:"allow_from"`

	// Cloud API
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	APIVersion    string `json:"api_version,omitempty"` // Graph API version (default "v21.0")
	BaseURL       string `json:"base_url,omitempty"`    // default "https://graph.facebook.com"
	AccessToken   string `json:"-"`                     // from env REACTD_WHATSAPP_ACCESS_TOKEN only

	// Bridge
	BridgeURL string `json:"bridge_url,omitempty"`
}

type FeishuConfig struct {
	Enabled   bool                `json:"enabled"`
	AppID     string              `json:"app_id,omitempty"`
	AppSecret string              `json:"-"`                // from env REACTD_FEISHU_APP_SECRET only
	Domain    string              `json:"domain,omitempty"` // "lark" (default), "feishu", or a custom host
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

// EnabledChannels returns the names of enabled channels.
func (c ChannelsConfig) EnabledChannels() []string {
	var out []string
	if c.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if c.Discord.Enabled {
		out = append(out, "discord")
	}
	if c.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.WhatsApp.Enabled {
		out = append(out, "whatsapp")
	}
	if c.Feishu.Enabled {
		out = append(out, "feishu")
	}
	return out
}
