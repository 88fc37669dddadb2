// Package http exposes the reaction engine over a small REST API mounted on
// the gateway mux.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// HistoryReader is the read side of the reaction store.
type HistoryReader interface {
	GetReaction(ctx context.Context, messageID string) (*store.ReactionRecord, error)
}

// ReactionsHandler handles the /v1/reactions and /v1/flows endpoints.
type ReactionsHandler struct {
	engine  *reactions.Engine
	history HistoryReader
	token   string
	allow   func(key string) bool // rate limiter (nil = unlimited)
}

// NewReactionsHandler creates a handler. An empty token disables auth.
func NewReactionsHandler(engine *reactions.Engine, history HistoryReader, token string) *ReactionsHandler {
	return &ReactionsHandler{engine: engine, history: history, token: token}
}

// SetRateLimiter installs a per-caller limiter keyed by remote address.
func (h *ReactionsHandler) SetRateLimiter(allow func(key string) bool) { h.allow = allow }

// RegisterRoutes registers all reaction routes on the given mux.
func (h *ReactionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/reactions", h.authMiddleware(h.handleReact))
	mux.HandleFunc("GET /v1/reactions/status", h.authMiddleware(h.handleStatus))
	mux.HandleFunc("GET /v1/reactions/{messageID}", h.authMiddleware(h.handleGet))
	mux.HandleFunc("DELETE /v1/reactions/{messageID}", h.authMiddleware(h.handleRemove))
	mux.HandleFunc("POST /v1/flows/{flow}", h.authMiddleware(h.handleFlowStart))
	mux.HandleFunc("DELETE /v1/flows/{messageID}", h.authMiddleware(h.handleFlowCancel))
}

func (h *ReactionsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if subtle.ConstantTimeCompare([]byte(extractBearerToken(r)), []byte(h.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		if h.allow != nil && !h.allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next(w, r)
	}
}

func (h *ReactionsHandler) handleReact(w http.ResponseWriter, r *http.Request) {
	var body protocol.ReactParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	var snap *reactions.MetricsSnapshot
	if body.Metrics != nil {
		snap = &reactions.MetricsSnapshot{
			OrderCount: body.Metrics.OrderCount,
			OrderTotal: body.Metrics.OrderTotal,
			TotalSpent: body.Metrics.TotalSpent,
		}
	}
	trigger, err := reactions.ParseTrigger(body.Recipient, body.MessageID, body.Category, body.Key, snap)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.ResultPayload{OK: h.engine.React(r.Context(), trigger)})
}

func (h *ReactionsHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recipient query parameter is required"})
		return
	}
	ok := h.engine.Remove(r.Context(), recipient, r.PathValue("messageID"))
	writeJSON(w, http.StatusOK, protocol.ResultPayload{OK: ok})
}

func (h *ReactionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is not available"})
		return
	}
	messageID := r.PathValue("messageID")
	rec, err := h.history.GetReaction(r.Context(), messageID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reaction recorded"})
		return
	}
	if err != nil {
		slog.Error("reactions.get", "message_id", messageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ReactionsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *ReactionsHandler) handleFlowStart(w http.ResponseWriter, r *http.Request) {
	var body protocol.MessageParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Recipient == "" || body.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recipient and message_id are required"})
		return
	}
	ok := h.engine.StartFlow(r.Context(), r.PathValue("flow"), body.Recipient, body.MessageID)
	writeJSON(w, http.StatusOK, protocol.ResultPayload{OK: ok})
}

func (h *ReactionsHandler) handleFlowCancel(w http.ResponseWriter, r *http.Request) {
	ok := h.engine.CancelFlow(r.PathValue("messageID"))
	writeJSON(w, http.StatusOK, protocol.ResultPayload{OK: ok})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// clientKey identifies a caller for rate limiting.
func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return "http:" + host
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
