// Package mcp exposes the reaction engine as Model Context Protocol tools, so
// an agent can react to the messages it answers without speaking the gateway
// WebSocket protocol.
package mcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// Tool names.
const (
	ToolReact      = "react"
	ToolRemove     = "remove_reaction"
	ToolFlowStart  = "start_flow"
	ToolFlowCancel = "cancel_flow"
	ToolHistory    = "last_reaction"
	ToolStatus     = "engine_status"
)

// HistoryReader is the read side of the reaction store.
type HistoryReader interface {
	GetReaction(ctx context.Context, messageID string) (*store.ReactionRecord, error)
}

// Server registers the engine's operations as MCP tools.
type Server struct {
	engine  *reactions.Engine
	history HistoryReader
	token   string
	mcp     *server.MCPServer
}

// NewServer builds the tool server. history may be nil; an empty token
// disables bearer auth on the HTTP endpoint.
func NewServer(engine *reactions.Engine, history HistoryReader, version, token string) *Server {
	s := &Server{
		engine:  engine,
		history: history,
		token:   token,
		mcp: server.NewMCPServer("reactd", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server, for in-process clients.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// RegisterRoutes mounts the stateless streamable HTTP transport on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	h := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(EndpointPath),
		server.WithStateLess(true),
	)
	mux.Handle(EndpointPath, s.auth(h))
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	categories := make([]string, 0, 6)
	for _, c := range reactions.Categories() {
		categories = append(categories, c.String())
	}

	s.mcp.AddTool(mcp.NewTool(ToolReact,
		mcp.WithDescription("Resolve a trigger to an emoji and react to the message. Returns ok=false when the trigger has no emoji, the level suppresses it, or a rate limit or cooldown applies."),
		mcp.WithString("recipient", mcp.Required(), mcp.Description("Recipient, optionally channel-prefixed (telegram:12345)")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Platform message ID")),
		mcp.WithString("category", mcp.Required(), mcp.Enum(categories...)),
		mcp.WithString("key", mcp.Description("Trigger key within the category; not used by user_metrics_profile")),
		mcp.WithNumber("order_count", mcp.Description("Profile metric: lifetime order count")),
		mcp.WithNumber("order_total", mcp.Description("Profile metric: current order total")),
		mcp.WithNumber("total_spent", mcp.Description("Profile metric: lifetime spend")),
	), s.handleReact)

	s.mcp.AddTool(mcp.NewTool(ToolRemove,
		mcp.WithDescription("Clear the bot's reaction on a message."),
		mcp.WithString("recipient", mcp.Required()),
		mcp.WithString("message_id", mcp.Required()),
	), s.handleRemove)

	s.mcp.AddTool(mcp.NewTool(ToolFlowStart,
		mcp.WithDescription("Start a timed reaction flow on a message, replacing any flow already running there."),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Flow key, e.g. order_flow or thinking_flow")),
		mcp.WithString("recipient", mcp.Required()),
		mcp.WithString("message_id", mcp.Required()),
	), s.handleFlowStart)

	s.mcp.AddTool(mcp.NewTool(ToolFlowCancel,
		mcp.WithDescription("Cancel the flow running on a message."),
		mcp.WithString("message_id", mcp.Required()),
		mcp.WithIdempotentHintAnnotation(true),
	), s.handleFlowCancel)

	s.mcp.AddTool(mcp.NewTool(ToolHistory,
		mcp.WithDescription("Show the last reaction recorded on a message."),
		mcp.WithString("message_id", mcp.Required()),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleHistory)

	s.mcp.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Report the engine level, running flows and rate window usage."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleStatus)
}

func (s *Server) handleReact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var snap *reactions.MetricsSnapshot
	for _, k := range []string{"order_count", "order_total", "total_spent"} {
		if _, ok := args[k]; ok {
			snap = &reactions.MetricsSnapshot{
				OrderCount: req.GetInt("order_count", 0),
				OrderTotal: req.GetFloat("order_total", 0),
				TotalSpent: req.GetFloat("total_spent", 0),
			}
			break
		}
	}
	trigger, err := reactions.ParseTrigger(
		req.GetString("recipient", ""),
		req.GetString("message_id", ""),
		req.GetString("category", ""),
		req.GetString("key", ""),
		snap,
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(s.engine.React(ctx, trigger))
}

func (s *Server) handleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient, messageID, errResult := recipientAndMessage(req)
	if errResult != nil {
		return errResult, nil
	}
	return result(s.engine.Remove(ctx, recipient, messageID))
}

func (s *Server) handleFlowStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flow, err := req.RequireString("flow")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recipient, messageID, errResult := recipientAndMessage(req)
	if errResult != nil {
		return errResult, nil
	}
	return result(s.engine.StartFlow(ctx, flow, recipient, messageID))
}

func (s *Server) handleFlowCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(s.engine.CancelFlow(messageID))
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.history == nil {
		return mcp.NewToolResultError("history is not available"), nil
	}
	rec, err := s.history.GetReaction(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError("no reaction recorded"), nil
	}
	if err != nil {
		slog.Error("mcp.history", "message_id", messageID, "error", err)
		return mcp.NewToolResultError("store unavailable"), nil
	}
	return mcp.NewToolResultJSON(*rec)
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(s.engine.Status())
}

func recipientAndMessage(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	recipient, err := req.RequireString("recipient")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	return recipient, messageID, nil
}

func result(ok bool) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(protocol.ResultPayload{OK: ok})
}
