// Package discord adds and removes message reactions through the Discord REST API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

const (
	// Discord keeps every reaction a user adds, so the channel remembers the
	// last emoji it set per message in order to replace or clear it.
	maxTrackedMessages = 10000
	trackedMessageTTL  = 24 * time.Hour
)

// API is the subset of *discordgo.Session the channel calls.
type API interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
}

// Channel reacts to Discord messages as the bot user.
type Channel struct {
	*channels.BaseChannel
	api       API
	botUserID string
	current   *expirable.LRU[string, string] // channelID/messageID → emoji
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewWithAPI(cfg, session), nil
}

// NewWithAPI creates a channel over an existing API client.
func NewWithAPI(cfg config.DiscordConfig, api API) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", cfg.AllowFrom),
		api:         api,
		current:     expirable.NewLRU[string, string](maxTrackedMessages, nil, trackedMessageTTL),
	}
}

// Start fetches the bot identity, which also validates the token.
// Reactions only need REST, so no gateway connection is opened.
func (c *Channel) Start(ctx context.Context) error {
	user, err := c.api.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.current.Purge()
	return nil
}

// SetReaction replaces the bot's reaction on the message. The previous emoji
// is removed first; failure to remove it is logged and does not block the add.
func (c *Channel) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}
	key := chatID + "/" + messageID

	if prev, ok := c.current.Get(key); ok && prev != emoji {
		err := c.api.MessageReactionRemove(chatID, messageID, prev, "@me", discordgo.WithContext(ctx))
		if err != nil {
			if emoji == "" {
				return fmt.Errorf("remove reaction: %w", err)
			}
			slog.Warn("discord: remove previous reaction failed", "channel_id", chatID, "message_id", messageID, "emoji", prev, "error", err)
		}
		c.current.Remove(key)
	}

	if emoji == "" {
		return nil
	}
	if err := c.api.MessageReactionAdd(chatID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	c.current.Add(key, emoji)
	return nil
}
