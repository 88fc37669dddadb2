package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// MethodHandler serves one RPC method. It must answer with exactly one
// client.SendResponse call.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches request frames to registered handlers.
type MethodRouter struct {
	server   *Server
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRouter creates a router with the system methods registered.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]MethodHandler)}
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	return r
}

// Register installs handler for method, replacing any previous one.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.mu.Lock()
	r.handlers[method] = handler
	r.mu.Unlock()
}

// Methods returns the registered method names.
func (r *MethodRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Handle authorizes, rate limits and dispatches one request.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if req.Method != protocol.MethodConnect && !client.Authenticated() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "call connect first"))
		return
	}
	if !r.server.rateLimiter.Allow(client.id) {
		slog.Warn("security.rate_limited", "client", client.id, "method", req.Method)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "too many requests"))
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrMethodNotFound, "unknown method: "+req.Method))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("gateway: method handler panicked", "method", req.Method, "panic", rec)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "internal error"))
		}
	}()
	handler(ctx, client, req)
}

func (r *MethodRouter) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ConnectParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}

	if token := r.server.cfg.Token; token != "" {
		if subtle.ConstantTimeCompare([]byte(params.Token), []byte(token)) != 1 {
			slog.Warn("security.auth_failed", "client", client.id)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
			return
		}
	}
	client.authenticated.Store(true)
	if params.Client != "" {
		slog.Info("client identified", "id", client.id, "name", params.Client)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ConnectPayload{
		Protocol: protocol.ProtocolVersion,
		ClientID: client.id,
		Methods:  r.Methods(),
	}))
}

func (r *MethodRouter) handleHealth(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"clients":  r.server.ClientCount(),
	}))
}
