// Package channels delivers reactions to messaging platforms.
//
// Each platform (Telegram, Discord, Slack, WhatsApp) implements Channel in its
// own subpackage. Manager routes a recipient of the form "<channel>:<chatID>"
// to the matching channel and is the engine's Transport.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

var (
	// ErrUnknownChannel is returned when a recipient cannot be routed.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNotAllowed is returned when a chat is outside the channel's allowlist.
	ErrNotAllowed = errors.New("chat not allowed")

	// ErrNotRunning is returned when a channel has not been started.
	ErrNotRunning = errors.New("channel not running")
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord", "slack").
	Name() string

	// Start verifies credentials and prepares the platform client.
	Start(ctx context.Context) error

	// Stop releases platform resources.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel can deliver reactions.
	IsRunning() bool

	// IsAllowed checks if a chat is permitted by the channel's allowlist.
	IsAllowed(chatID string) bool

	// SetReaction replaces the bot's reaction on a message. An empty emoji
	// clears it.
	SetReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	running   atomic.Bool
	allowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a chat is permitted by the allowlist.
// Entries may carry a leading "@" for username-addressed chats.
// Empty allowlist means all chats are allowed.
func (c *BaseChannel) IsAllowed(chatID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	trimmedID := strings.TrimPrefix(chatID, "@")
	for _, allowed := range c.allowList {
		if chatID == allowed || trimmedID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// CheckReady returns the error SetReaction implementations report before
// touching the platform API.
func (c *BaseChannel) CheckReady(chatID string) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}
	if !c.IsAllowed(chatID) {
		return ErrNotAllowed
	}
	return nil
}
