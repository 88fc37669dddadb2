// Package slack adds and removes message reactions through the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/slack-go/slack"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

const (
	maxTrackedMessages = 10000
	trackedMessageTTL  = 24 * time.Hour
)

// API is the subset of *slack.Client the channel calls.
type API interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

// Channel reacts to Slack messages. chatID is the conversation ID and
// messageID the message timestamp ("1700000000.000100").
type Channel struct {
	*channels.BaseChannel
	api     API
	current *expirable.LRU[string, string] // channel/ts → reaction name
}

// New creates a new Slack channel from config.
func New(cfg config.SlackConfig, opts ...slack.Option) *Channel {
	return NewWithAPI(cfg, slack.New(cfg.BotToken, opts...))
}

// NewWithAPI creates a channel over an existing API client.
func NewWithAPI(cfg config.SlackConfig, api API) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("slack", cfg.AllowFrom),
		api:         api,
		current:     expirable.NewLRU[string, string](maxTrackedMessages, nil, trackedMessageTTL),
	}
}

// Start validates the bot token with auth.test.
func (c *Channel) Start(ctx context.Context) error {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth.test: %w", err)
	}
	c.SetRunning(true)
	slog.Info("slack bot connected", "team", resp.Team, "user", resp.User, "user_id", resp.UserID)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.current.Purge()
	return nil
}

// SetReaction replaces the bot's reaction on the message. Slack's
// already_reacted and no_reaction answers count as success.
func (c *Channel) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}
	item := slack.NewRefToMessage(chatID, messageID)
	key := chatID + "/" + messageID

	name := ""
	if emoji != "" {
		var ok bool
		if name, ok = EmojiName(emoji); !ok {
			return fmt.Errorf("no slack name for emoji %q", emoji)
		}
	}

	if prev, ok := c.current.Get(key); ok && prev != name {
		err := c.api.RemoveReactionContext(ctx, prev, item)
		if err != nil && !isCode(err, "no_reaction") {
			if name == "" {
				return fmt.Errorf("reactions.remove: %w", wrap(err))
			}
			slog.Warn("slack: remove previous reaction failed", "channel", chatID, "ts", messageID, "name", prev, "error", err)
		}
		c.current.Remove(key)
	}

	if name == "" {
		return nil
	}
	if err := c.api.AddReactionContext(ctx, name, item); err != nil && !isCode(err, "already_reacted") {
		return fmt.Errorf("reactions.add: %w", wrap(err))
	}
	c.current.Add(key, name)
	return nil
}

func isCode(err error, code string) bool {
	var se slack.SlackErrorResponse
	return errors.As(err, &se) && se.Err == code
}

// wrap annotates rate-limit errors with the server's retry hint.
func wrap(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Errorf("rate limited, retry after %s: %w", rl.RetryAfter, err)
	}
	return err
}
