package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/channels/discord"
	"github.com/nextlevelbuilder/reactd/internal/channels/feishu"
	"github.com/nextlevelbuilder/reactd/internal/channels/slack"
	"github.com/nextlevelbuilder/reactd/internal/channels/telegram"
	"github.com/nextlevelbuilder/reactd/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

// buildChannels registers every enabled channel on a new manager. A channel
// that fails to initialize is logged and skipped; the gateway still serves
// the others.
func buildChannels(cfg config.ChannelsConfig) (*channels.Manager, error) {
	mgr := channels.NewManager(cfg.Default, channels.NewThrottle(cfg.ThrottlePerSecond, 1))

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		if ch, err := telegram.New(cfg.Telegram); err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		if ch, err := discord.New(cfg.Discord); err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
			slog.Info("discord channel enabled")
		}
	}

	if cfg.Slack.Enabled && cfg.Slack.BotToken != "" {
		mgr.RegisterChannel("slack", slack.New(cfg.Slack))
		slog.Info("slack channel enabled")
	}

	if cfg.WhatsApp.Enabled {
		if ch, err := whatsapp.New(cfg.WhatsApp); err != nil {
			slog.Error("failed to initialize whatsapp channel", "error", err)
		} else {
			mgr.RegisterChannel("whatsapp", ch)
			slog.Info("whatsapp channel enabled", "mode", cfg.WhatsApp.Mode)
		}
	}

	if cfg.Feishu.Enabled && cfg.Feishu.AppID != "" {
		if ch, err := feishu.New(cfg.Feishu); err != nil {
			slog.Error("failed to initialize feishu channel", "error", err)
		} else {
			mgr.RegisterChannel("feishu", ch)
			slog.Info("feishu channel enabled")
		}
	}

	if len(mgr.GetEnabledChannels()) == 0 {
		return nil, fmt.Errorf("no channel could be initialized (enabled: %v)", cfg.EnabledChannels())
	}
	return mgr, nil
}
