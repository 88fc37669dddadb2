// Package feishu reacts to Feishu/Lark messages through the open platform
// IM reaction API.
//
// Default domain: Lark Global (open.larksuite.com).
package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

const (
	maxTrackedMessages = 10000
	trackedMessageTTL  = 24 * time.Hour
)

// placedReaction is what the bot last put on a message. Deleting a Feishu
// reaction needs the reaction_id returned when it was added.
type placedReaction struct {
	emojiType  string
	reactionID string
}

// Channel reacts to Feishu/Lark messages. chatID is the oc_ chat ID (used
// for the allowlist); messageID is the om_ message ID.
type Channel struct {
	*channels.BaseChannel
	client    *LarkClient
	botOpenID string
	current   *expirable.LRU[string, placedReaction]
}

// New creates a new Feishu channel from config.
func New(cfg config.FeishuConfig) (*Channel, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("feishu app_id and app_secret are required")
	}
	client := NewLarkClient(cfg.AppID, cfg.AppSecret, resolveDomain(cfg.Domain))
	return &Channel{
		BaseChannel: channels.NewBaseChannel("feishu", cfg.AllowFrom),
		client:      client,
		current:     expirable.NewLRU[string, placedReaction](maxTrackedMessages, nil, trackedMessageTTL),
	}, nil
}

// Start probes the bot identity, which also exchanges the app credentials
// for a tenant access token.
func (c *Channel) Start(ctx context.Context) error {
	openID, err := c.client.GetBotInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch bot info: %w", err)
	}
	if openID == "" {
		return fmt.Errorf("bot open_id is empty")
	}
	c.botOpenID = openID
	c.SetRunning(true)
	slog.Info("feishu bot connected", "open_id", openID)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.current.Purge()
	return nil
}

// SetReaction replaces the bot's reaction on the message.
func (c *Channel) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}

	emojiType := ""
	if emoji != "" {
		var ok bool
		if emojiType, ok = EmojiType(emoji); !ok {
			return fmt.Errorf("no feishu emoji_type for %q", emoji)
		}
	}

	if prev, ok := c.current.Get(messageID); ok {
		if prev.emojiType == emojiType {
			return nil
		}
		if err := c.client.DeleteReaction(ctx, messageID, prev.reactionID); err != nil {
			if emojiType == "" {
				return err
			}
			slog.Warn("feishu: delete previous reaction failed", "message_id", messageID, "emoji_type", prev.emojiType, "error", err)
		}
		c.current.Remove(messageID)
	}

	if emojiType == "" {
		return nil
	}
	reactionID, err := c.client.AddReaction(ctx, messageID, emojiType)
	if err != nil {
		return err
	}
	c.current.Add(messageID, placedReaction{emojiType: emojiType, reactionID: reactionID})
	return nil
}

// --- Domain resolution ---

func resolveDomain(domain string) string {
	switch domain {
	case "feishu":
		return "https://open.feishu.cn"
	case "", "lark":
		return "https://open.larksuite.com"
	default:
		if !strings.HasPrefix(domain, "http") {
			return "https://" + domain
		}
		return strings.TrimRight(domain, "/")
	}
}

// emojiTypes maps catalog emoji to Feishu emoji_type keys.
var emojiTypes = map[string]string{
	"👋":   "WAVE",
	"✅":   "DONE",
	"👍":   "THUMBSUP",
	"🤔":   "THINKING",
	"❤️":  "HEART",
	"❤":   "HEART",
	"🎉":   "PARTY",
	"❌":   "CrossMark",
	"🔥":   "Fire",
	"📢":   "Loudspeaker",
	"🚨":   "Alarm",
	"👀":   "GLANCE",
	"⏳":   "OneSecond",
	"🙏":   "THANKS",
	"🤝":   "SHAKE",
	"💰":   "MONEY",
	"🏆":   "Trophy",
	"👑":   "Trophy",
	"⭐":   "AWESOMEN",
	"👨‍🍳": "OnIt",
}

// EmojiType returns the Feishu emoji_type for emoji. ASCII names are
// assumed to already be emoji_type keys and pass through unchanged.
func EmojiType(emoji string) (string, bool) {
	if t, ok := emojiTypes[emoji]; ok {
		return t, true
	}
	if emoji == "" {
		return "", false
	}
	for _, r := range emoji {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return "", false
		}
	}
	return emoji, true
}
