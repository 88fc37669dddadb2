// Package whatsapp reacts to WhatsApp messages, either through the Cloud API
// or through a self-hosted bridge (e.g. whatsapp-web.js based) over WebSocket.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

// New creates the WhatsApp channel selected by cfg.Mode.
func New(cfg config.WhatsAppConfig) (channels.Channel, error) {
	switch cfg.Mode {
	case "", "cloud":
		return NewCloud(cfg, nil)
	case "bridge":
		return NewBridge(cfg)
	}
	return nil, fmt.Errorf("unknown whatsapp mode %q", cfg.Mode)
}

var errBridgeDisconnected = errors.New("whatsapp bridge not connected")

// bridgeFrame is the JSON envelope exchanged with the bridge.
// Outbound: {"type":"reaction","id":"...","to":"...","message_id":"...","emoji":"..."}
// Inbound ack: {"type":"reaction_ack","id":"...","ok":true,"error":""}
type bridgeFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	To        string `json:"to,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji"`
	OK        bool   `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bridge connects to a WhatsApp bridge via WebSocket. The bridge handles
// the WhatsApp protocol; this channel sends reaction requests and waits for
// the bridge's acknowledgement.
type Bridge struct {
	*channels.BaseChannel
	url     string
	conn    *websocket.Conn
	mu      sync.Mutex // guards conn and serializes writes
	pending sync.Map   // request id → chan bridgeFrame
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBridge creates a bridge channel from config.
func NewBridge(cfg config.WhatsAppConfig) (*Bridge, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Bridge{
		BaseChannel: channels.NewBaseChannel("whatsapp", cfg.AllowFrom),
		url:         cfg.BridgeURL,
	}, nil
}

// Start connects to the bridge and begins listening. A failed initial
// connection is retried in the background.
func (c *Bridge) Start(ctx context.Context) error {
	slog.Info("starting whatsapp bridge channel", "bridge_url", c.url)

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.done = make(chan struct{})

	if err := c.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop closes the connection and stops the reconnect loop.
func (c *Bridge) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp bridge channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if c.done != nil {
		<-c.done
	}
	c.SetRunning(false)
	return nil
}

// Connected reports whether a bridge connection is currently open.
func (c *Bridge) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetReaction asks the bridge to react and waits for its acknowledgement.
func (c *Bridge) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}

	id := uuid.NewString()
	ack := make(chan bridgeFrame, 1)
	c.pending.Store(id, ack)
	defer c.pending.Delete(id)

	frame := bridgeFrame{Type: "reaction", ID: id, To: chatID, MessageID: messageID, Emoji: emoji}
	if err := c.write(ctx, frame); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("whatsapp bridge ack: %w", ctx.Err())
	case resp := <-ack:
		if !resp.OK {
			return fmt.Errorf("whatsapp bridge rejected reaction: %s", resp.Error)
		}
		return nil
	}
}

func (c *Bridge) write(ctx context.Context, frame bridgeFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal whatsapp reaction: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errBridgeDisconnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp reaction: %w", err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Bridge) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.url)
	return nil
}

// listenLoop reads acknowledgements from the bridge with automatic reconnection.
func (c *Bridge) listenLoop() {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge JSON", "error", err)
			continue
		}
		if frame.Type != "reaction_ack" {
			continue
		}
		if ch, ok := c.pending.Load(frame.ID); ok {
			select {
			case ch.(chan bridgeFrame) <- frame:
			default:
			}
		}
	}
}
