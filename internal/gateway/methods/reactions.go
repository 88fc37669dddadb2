// Package methods registers the reactd RPC handlers on the gateway router.
package methods

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/reactd/internal/gateway"
	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

// HistoryReader is the read side of the reaction store.
type HistoryReader interface {
	GetReaction(ctx context.Context, messageID string) (*store.ReactionRecord, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	GetCounters(ctx context.Context, keys []string) (map[string]int64, error)
}

// ReactionsMethods handles the reactions.* RPC methods.
type ReactionsMethods struct {
	engine  *reactions.Engine
	history HistoryReader
}

// NewReactionsMethods creates the handler set. A nil history reader makes
// history and counter lookups fail with NOT_FOUND.
func NewReactionsMethods(engine *reactions.Engine, history HistoryReader) *ReactionsMethods {
	return &ReactionsMethods{engine: engine, history: history}
}

// Register registers all reaction RPC methods.
func (m *ReactionsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodReact, m.handleReact)
	router.Register(protocol.MethodRemove, m.handleRemove)
	router.Register(protocol.MethodFlowStart, m.handleFlowStart)
	router.Register(protocol.MethodFlowCancel, m.handleFlowCancel)
	router.Register(protocol.MethodFlowsList, m.handleFlowsList)
	router.Register(protocol.MethodCatalogGet, m.handleCatalogGet)
	router.Register(protocol.MethodStatus, m.handleStatus)
	router.Register(protocol.MethodHistoryGet, m.handleHistoryGet)
	router.Register(protocol.MethodCounterGet, m.handleCounterGet)
	router.Register(protocol.MethodCountersGet, m.handleCountersGet)
}

func decodeParams(req *protocol.RequestFrame, v interface{}) bool {
	if req.Params == nil {
		return false
	}
	return json.Unmarshal(req.Params, v) == nil
}

func invalid(client *gateway.Client, req *protocol.RequestFrame, msg string) {
	client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, msg))
}

func (m *ReactionsMethods) handleReact(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.ReactParams
	if !decodeParams(req, &params) {
		invalid(client, req, "invalid params")
		return
	}
	var snap *reactions.MetricsSnapshot
	if params.Metrics != nil {
		snap = &reactions.MetricsSnapshot{
			OrderCount: params.Metrics.OrderCount,
			OrderTotal: params.Metrics.OrderTotal,
			TotalSpent: params.Metrics.TotalSpent,
		}
	}
	trigger, err := reactions.ParseTrigger(params.Recipient, params.MessageID, params.Category, params.Key, snap)
	if err != nil {
		invalid(client, req, err.Error())
		return
	}
	ok := m.engine.React(ctx, trigger)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ResultPayload{OK: ok}))
}

func (m *ReactionsMethods) handleRemove(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.MessageParams
	if !decodeParams(req, &params) || params.Recipient == "" || params.MessageID == "" {
		invalid(client, req, "recipient and message_id are required")
		return
	}
	ok := m.engine.Remove(ctx, params.Recipient, params.MessageID)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ResultPayload{OK: ok}))
}

func (m *ReactionsMethods) handleFlowStart(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.FlowStartParams
	if !decodeParams(req, &params) || params.Flow == "" || params.Recipient == "" || params.MessageID == "" {
		invalid(client, req, "flow, recipient and message_id are required")
		return
	}
	ok := m.engine.StartFlow(ctx, params.Flow, params.Recipient, params.MessageID)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ResultPayload{OK: ok}))
}

func (m *ReactionsMethods) handleFlowCancel(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.MessageParams
	if !decodeParams(req, &params) || params.MessageID == "" {
		invalid(client, req, "message_id is required")
		return
	}
	ok := m.engine.CancelFlow(params.MessageID)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ResultPayload{OK: ok}))
}

func (m *ReactionsMethods) handleFlowsList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"flows": FlowInfos(m.engine.Flows()),
	}))
}

func (m *ReactionsMethods) handleCatalogGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, CatalogTables(m.engine.Catalog())))
}

func (m *ReactionsMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, m.engine.Status()))
}

func (m *ReactionsMethods) handleHistoryGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.MessageParams
	if !decodeParams(req, &params) || params.MessageID == "" {
		invalid(client, req, "message_id is required")
		return
	}
	if m.history == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "history is not available"))
		return
	}
	rec, err := m.history.GetReaction(ctx, params.MessageID)
	if err != nil {
		m.storeError(client, req, "reactions.history.get", err)
		return
	}
	payload := map[string]interface{}{"message_id": params.MessageID, "record": rec}
	if inst, ok := m.engine.FlowInstance(params.MessageID); ok {
		payload["flow"] = inst
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, payload))
}

func (m *ReactionsMethods) handleCounterGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.CounterParams
	if !decodeParams(req, &params) || (params.Emoji == "") == (params.Recipient == "") {
		invalid(client, req, "exactly one of emoji and recipient is required")
		return
	}
	if m.history == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "counters are not available"))
		return
	}
	key := store.UserCounterKey(params.Recipient)
	if params.Emoji != "" {
		key = store.EmojiCounterKey(params.Emoji)
	}
	n, err := m.history.GetCounter(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.storeError(client, req, "reactions.counter.get", err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.CounterPayload{Key: key, Count: n}))
}

// maxCounterKeys bounds one reactions.counters.get call.
const maxCounterKeys = 100

func (m *ReactionsMethods) handleCountersGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.CountersParams
	if !decodeParams(req, &params) {
		invalid(client, req, "invalid params")
		return
	}
	keys := CounterKeys(params.Emojis, params.Recipients)
	if len(keys) == 0 || len(keys) > maxCounterKeys {
		invalid(client, req, "between 1 and 100 emojis or recipients are required")
		return
	}
	if m.history == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "counters are not available"))
		return
	}
	counts, err := m.history.GetCounters(ctx, keys)
	if err != nil {
		m.storeError(client, req, "reactions.counters.get", err)
		return
	}
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[k] = counts[k]
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.CountersPayload{Counts: out}))
}

// CounterKeys maps emojis and recipients to their counter keys, dropping
// empty entries and duplicates.
func CounterKeys(emojis, recipients []string) []string {
	seen := make(map[string]bool, len(emojis)+len(recipients))
	keys := make([]string, 0, len(emojis)+len(recipients))
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, e := range emojis {
		if e != "" {
			add(store.EmojiCounterKey(e))
		}
	}
	for _, r := range recipients {
		if r != "" {
			add(store.UserCounterKey(r))
		}
	}
	return keys
}

func (m *ReactionsMethods) storeError(client *gateway.Client, req *protocol.RequestFrame, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "not found"))
		return
	}
	slog.Error(op, "error", err)
	client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "store unavailable"))
}

// FlowInfos converts flows to their wire form.
func FlowInfos(flows []reactions.Flow) []protocol.FlowInfo {
	out := make([]protocol.FlowInfo, 0, len(flows))
	for _, f := range flows {
		info := protocol.FlowInfo{Key: f.Key, Stages: make([]protocol.FlowStageInfo, 0, len(f.Stages))}
		for _, s := range f.Stages {
			info.Stages = append(info.Stages, protocol.FlowStageInfo{Emoji: s.Emoji, DelayMs: s.Delay.Milliseconds()})
		}
		out = append(out, info)
	}
	return out
}

// CatalogTables returns every category table keyed by category name.
func CatalogTables(c *reactions.Catalog) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, cat := range reactions.Categories() {
		out[cat.String()] = c.Table(cat)
	}
	return out
}
