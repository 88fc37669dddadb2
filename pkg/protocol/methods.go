package protocol

// RPC method name constants.
const (
	// System
	MethodConnect = "connect"
	MethodHealth  = "health"

	// Reactions
	MethodReact          = "reactions.react"
	MethodRemove         = "reactions.remove"
	MethodFlowStart      = "reactions.flow.start"
	MethodFlowCancel     = "reactions.flow.cancel"
	MethodFlowsList      = "reactions.flows.list"
	MethodCatalogGet     = "reactions.catalog.get"
	MethodStatus         = "reactions.status"
	MethodHistoryGet     = "reactions.history.get"
	MethodCounterGet     = "reactions.counter.get"
	MethodCountersGet    = "reactions.counters.get"
	MethodChannelsStatus = "channels.status"
)

// ReactParams are the params of reactions.react. Category is the category
// name (e.g. "user_intent"); Metrics is required for user_metrics_profile.
type ReactParams struct {
	Recipient string           `json:"recipient"`
	MessageID string           `json:"message_id"`
	Category  string           `json:"category"`
	Key       string           `json:"key,omitempty"`
	Metrics   *MetricsSnapshot `json:"metrics,omitempty"`
}

// MetricsSnapshot mirrors the engine's per-user value summary.
type MetricsSnapshot struct {
	OrderCount int     `json:"order_count"`
	OrderTotal float64 `json:"order_total"`
	TotalSpent float64 `json:"total_spent"`
}

// MessageParams address one message.
type MessageParams struct {
	Recipient string `json:"recipient,omitempty"`
	MessageID string `json:"message_id"`
}

// FlowStartParams are the params of reactions.flow.start.
type FlowStartParams struct {
	Flow      string `json:"flow"`
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id"`
}

// CounterParams are the params of reactions.counter.get. Exactly one of
// Emoji and Recipient is set.
type CounterParams struct {
	Emoji     string `json:"emoji,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// ResultPayload is returned by calls that report a boolean outcome.
type ResultPayload struct {
	OK bool `json:"ok"`
}

// ConnectParams authenticate a WebSocket client.
type ConnectParams struct {
	Token  string `json:"token,omitempty"`
	Client string `json:"client,omitempty"` // free-form client name for logs
}

// ConnectPayload answers a successful connect.
type ConnectPayload struct {
	Protocol int      `json:"protocol"`
	ClientID string   `json:"client_id"`
	Methods  []string `json:"methods"`
}

// FlowInfo describes one configured flow. Delays are relative to the
// previous stage.
type FlowInfo struct {
	Key    string          `json:"key"`
	Stages []FlowStageInfo `json:"stages"`
}

type FlowStageInfo struct {
	Emoji   string `json:"emoji"`
	DelayMs int64  `json:"delay_ms"`
}

// CounterPayload answers reactions.counter.get.
type CounterPayload struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// CountersParams are the params of reactions.counters.get. At least one
// emoji or recipient is required.
type CountersParams struct {
	Emojis     []string `json:"emojis,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// CountersPayload answers reactions.counters.get, keyed by counter key.
// Unknown or expired counters report zero.
type CountersPayload struct {
	Counts map[string]int64 `json:"counts"`
}
