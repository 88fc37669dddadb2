package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Manager manages all registered channels, handling their lifecycle
// and routing reactions to the correct channel.
type Manager struct {
	channels       map[string]Channel
	defaultChannel string
	throttle       *Throttle
	mu             sync.RWMutex
}

// NewManager creates a new channel manager. defaultChannel receives
// recipients without a channel prefix; when empty and exactly one channel
// is registered, that channel is used. throttle may be nil.
func NewManager(defaultChannel string, throttle *Throttle) *Manager {
	return &Manager{
		channels:       make(map[string]Channel),
		defaultChannel: defaultChannel,
		throttle:       throttle,
	}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// ChannelStatus is the reported state of one channel.
type ChannelStatus struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	Default bool `json:"default,omitempty"`
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ChannelStatus, len(m.channels))
	for name, channel := range m.channels {
		status[name] = ChannelStatus{
			Enabled: true,
			Running: channel.IsRunning(),
			Default: name == m.defaultChannel,
		}
	}
	return status
}

// GetEnabledChannels returns the names of all enabled channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts all registered channels. A channel that fails to start
// is logged and left stopped; the others keep running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels started")
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels stopped")
	return nil
}

// Resolve maps a recipient to its channel and platform chat ID.
func (m *Manager) Resolve(recipient string) (Channel, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name, chatID, ok := strings.Cut(recipient, ":"); ok {
		if ch, exists := m.channels[name]; exists {
			return ch, chatID, nil
		}
	}

	if m.defaultChannel != "" {
		if ch, exists := m.channels[m.defaultChannel]; exists {
			return ch, recipient, nil
		}
		return nil, "", fmt.Errorf("%w: default %q not registered", ErrUnknownChannel, m.defaultChannel)
	}
	if len(m.channels) == 1 {
		for _, ch := range m.channels {
			return ch, recipient, nil
		}
	}
	return nil, "", fmt.Errorf("%w: cannot route recipient %q", ErrUnknownChannel, recipient)
}

// CanonicalRecipient returns recipient as "channel:chatID" so that every
// spelling routed to the same chat shares one identity. Recipients that
// cannot be routed are returned unchanged.
func (m *Manager) CanonicalRecipient(recipient string) string {
	if recipient == "" {
		return recipient
	}
	ch, chatID, err := m.Resolve(recipient)
	if err != nil || chatID == "" {
		return recipient
	}
	return ch.Name() + ":" + chatID
}

// SendReaction routes a reaction to the recipient's channel. An empty emoji
// clears the bot's reaction on the message.
func (m *Manager) SendReaction(ctx context.Context, recipient, messageID, emoji string) error {
	ch, chatID, err := m.Resolve(recipient)
	if err != nil {
		return err
	}
	if err := m.throttle.Wait(ctx, ch.Name()+":"+chatID); err != nil {
		return fmt.Errorf("%s: throttled: %w", ch.Name(), err)
	}
	if err := ch.SetReaction(ctx, chatID, messageID, emoji); err != nil {
		return fmt.Errorf("%s: %w", ch.Name(), err)
	}
	return nil
}
