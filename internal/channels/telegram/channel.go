// Package telegram sets message reactions through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

// API is the subset of *telego.Bot the channel calls.
type API interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SetMessageReaction(ctx context.Context, params *telego.SetMessageReactionParams) error
}

// Channel reacts to Telegram messages with setMessageReaction. A bot may hold
// one reaction per message, so setting a new emoji replaces the previous one.
type Channel struct {
	*channels.BaseChannel
	api      API
	isBig    bool
	username string
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewWithAPI(cfg, bot), nil
}

// NewWithAPI creates a channel over an existing API client.
func NewWithAPI(cfg config.TelegramConfig, api API) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", cfg.AllowFrom),
		api:         api,
		isBig:       cfg.IsBig,
	}
}

// Start verifies the bot token with getMe.
func (c *Channel) Start(ctx context.Context) error {
	me, err := c.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.username = me.Username
	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// SetReaction sets emoji on the message, or clears the bot's reaction when
// emoji is empty. chatID is a numeric chat ID or an @channel username.
func (c *Channel) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}

	params := &telego.SetMessageReactionParams{
		ChatID:    parseChatID(chatID),
		MessageID: msgID,
		Reaction:  []telego.ReactionType{},
	}
	if emoji != "" {
		params.Reaction = []telego.ReactionType{&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji}}
		params.IsBig = c.isBig
	}

	if err := c.api.SetMessageReaction(ctx, params); err != nil {
		return fmt.Errorf("setMessageReaction chat=%s msg=%s: %w", chatID, messageID, err)
	}
	return nil
}

func parseChatID(chatID string) telego.ChatID {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tu.ID(id)
	}
	if chatID != "" && chatID[0] != '@' {
		chatID = "@" + chatID
	}
	return tu.Username(chatID)
}
