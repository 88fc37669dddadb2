// Package reactions decides whether and which emoji reaction to attach to a
// chat message in response to an already-classified trigger.
//
// The engine composes four parts:
//   - Guard: sliding-window rate limits and per-message / per-recipient cooldowns
//   - Catalog: static trigger → emoji tables
//   - FlowScheduler: named multi-stage timed reaction sequences
//   - Engine: orchestration over a Transport, a Store and a MetricsSink
//
// Nothing in this package returns an error across its public boundary:
// reactions are cosmetic and best-effort, so failures are logged and reported
// as a false result.
package reactions

import (
	"fmt"
	"time"
)

// Category identifies which catalog table a trigger key is resolved against.
type Category int

const (
	CategoryOrderFlowStage Category = iota
	CategoryUserIntent
	CategoryValidationResult
	CategoryAdminMessageKind
	CategoryGeneralState
	CategoryUserMetricsProfile

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryOrderFlowStage:     "order_flow_stage",
	CategoryUserIntent:         "user_intent",
	CategoryValidationResult:   "validation_result",
	CategoryAdminMessageKind:   "admin_message_kind",
	CategoryGeneralState:       "general_state",
	CategoryUserMetricsProfile: "user_metrics_profile",
}

// String returns the wire/config name of the category.
func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory maps a config/wire name back to a Category.
func ParseCategory(s string) (Category, bool) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), true
		}
	}
	return 0, false
}

// Categories returns every known category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

// Validation results supplied by upstream input validators.
const (
	ValidationValid      = "valid"
	ValidationInvalid    = "invalid"
	ValidationPartial    = "partial"
	ValidationProcessing = "processing"
)

// MetricsSnapshot is the per-user value summary used by the
// user_metrics_profile category.
type MetricsSnapshot struct {
	OrderCount int     `json:"order_count"`
	OrderTotal float64 `json:"order_total"`
	TotalSpent float64 `json:"total_spent"`
}

// Trigger is a pre-classified reason to react to a message.
// Key is ignored for CategoryUserMetricsProfile, which resolves from Metrics.
type Trigger struct {
	Recipient string
	MessageID string
	Category  Category
	Key       string
	Metrics   *MetricsSnapshot
}

// StageTrigger builds a conversation-stage trigger.
func StageTrigger(recipient, messageID, stage string) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryOrderFlowStage, Key: stage}
}

// IntentTrigger builds a detected-intent trigger.
func IntentTrigger(recipient, messageID, intent string) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryUserIntent, Key: intent}
}

// ValidationTrigger builds an input-validation trigger.
func ValidationTrigger(recipient, messageID, result string) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryValidationResult, Key: result}
}

// AdminTrigger builds an administrative-notification trigger.
func AdminTrigger(recipient, messageID, kind string) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryAdminMessageKind, Key: kind}
}

// StateTrigger builds a general agent-state trigger (thinking, done, error...).
func StateTrigger(recipient, messageID, state string) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryGeneralState, Key: state}
}

// MetricsTrigger builds a user-value trigger from a metrics snapshot.
func MetricsTrigger(recipient, messageID string, m MetricsSnapshot) Trigger {
	return Trigger{Recipient: recipient, MessageID: messageID, Category: CategoryUserMetricsProfile, Metrics: &m}
}

// ParseTrigger builds a trigger from its wire form. category is the
// category name; metrics is required for user_metrics_profile.
func ParseTrigger(recipient, messageID, category, key string, metrics *MetricsSnapshot) (Trigger, error) {
	c, ok := ParseCategory(category)
	if !ok {
		return Trigger{}, fmt.Errorf("unknown category %q", category)
	}
	if recipient == "" || messageID == "" {
		return Trigger{}, fmt.Errorf("recipient and message_id are required")
	}
	if c == CategoryUserMetricsProfile {
		if metrics == nil {
			return Trigger{}, fmt.Errorf("%s requires metrics", c)
		}
		return MetricsTrigger(recipient, messageID, *metrics), nil
	}
	if key == "" {
		return Trigger{}, fmt.Errorf("%s requires a key", c)
	}
	return Trigger{Recipient: recipient, MessageID: messageID, Category: c, Key: key}, nil
}

// Reason explains a guard decision.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonRateLimitMinute Reason = "rate_limit_minute"
	ReasonRateLimitHour   Reason = "rate_limit_hour"
	ReasonCooldownMessage Reason = "cooldown_message"
	ReasonCooldownUser    Reason = "cooldown_user"
)

// Outcome is the final result of one dispatch attempt.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRemoved     Outcome = "removed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// ReactionEvent describes one dispatch attempt. An empty Emoji is a removal.
type ReactionEvent struct {
	Recipient string    `json:"recipient"`
	MessageID string    `json:"message_id"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Reason    Reason    `json:"reason,omitempty"`
}
