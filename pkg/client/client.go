// Package client is a minimal RPC client for the reactd gateway.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// Error is a gateway error response.
type Error struct {
	Method  string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Client holds one gateway connection. Calls are serialized.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	seq  atomic.Uint64

	// OnEvent, when set, receives event frames read while waiting for a
	// response.
	OnEvent func(protocol.EventFrame)
}

// Dial connects to the gateway's WebSocket endpoint (ws://host:port/ws)
// and performs the connect handshake.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{"reactd-client"}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)

	c := &Client{conn: conn}
	if err := c.Call(ctx, protocol.MethodConnect, protocol.ConnectParams{Token: token, Client: "reactd-client"}, nil); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "connect rejected")
		return nil, err
	}
	return c, nil
}

// Call sends one request and decodes the response payload into result,
// which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     strconv.FormatUint(c.seq.Add(1), 10),
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c.conn, &raw); err != nil {
			return fmt.Errorf("read %s: %w", method, err)
		}
		typ, err := protocol.ParseFrameType(raw)
		if err != nil {
			return err
		}
		if typ == protocol.FrameTypeEvent {
			c.dispatchEvent(raw)
			continue
		}

		var resp struct {
			ID      string               `json:"id"`
			OK      bool                 `json:"ok"`
			Payload json.RawMessage      `json:"payload,omitempty"`
			Error   *protocol.ErrorShape `json:"error,omitempty"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		if resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			e := &Error{Method: method, Code: "UNKNOWN"}
			if resp.Error != nil {
				e.Code, e.Message = resp.Error.Code, resp.Error.Message
			}
			return e
		}
		if result == nil || len(resp.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Payload, result)
	}
}

// Watch delivers event frames to fn until ctx is cancelled or the
// connection drops. It must not run concurrently with Call.
func (c *Client) Watch(ctx context.Context, fn func(protocol.EventFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c.conn, &raw); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev protocol.EventFrame
		if typ, _ := protocol.ParseFrameType(raw); typ != protocol.FrameTypeEvent || json.Unmarshal(raw, &ev) != nil {
			continue
		}
		fn(ev)
	}
}

func (c *Client) dispatchEvent(raw json.RawMessage) {
	if c.OnEvent == nil {
		return
	}
	var ev protocol.EventFrame
	if json.Unmarshal(raw, &ev) == nil {
		c.OnEvent(ev)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
