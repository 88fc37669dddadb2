package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one WebSocket connection to the gateway.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send          chan []byte
	authenticated atomic.Bool
	seq           atomic.Uint64

	// inflight maps request IDs to method names for RPC metrics.
	inflight sync.Map

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection. Without a gateway token the
// client starts authenticated.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	if s.cfg.Token == "" {
		c.authenticated.Store(true)
	}
	return c
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// Authenticated reports whether connect succeeded (or no token is configured).
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

// Run pumps frames until the connection closes or ctx is done.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, err.Error()))
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil || req.ID == "" || req.Method == "" {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "request needs id and method"))
		return
	}
	c.inflight.Store(req.ID, req.Method)

	// Handlers may block on platform I/O; serve each request on its own goroutine.
	go c.server.router.Handle(ctx, c, &req)
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	if method, ok := c.inflight.LoadAndDelete(resp.ID); ok {
		c.server.observeRPC(method.(string), resp.OK)
	}
	c.enqueue(resp)
}

// SendEvent queues an event frame with the next per-client sequence number.
func (c *Client) SendEvent(event protocol.EventFrame) {
	event.Seq = c.seq.Add(1)
	c.enqueue(&event)
}

func (c *Client) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: marshal frame", "client", c.id, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("gateway: client send buffer full, dropping frame", "client", c.id)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
