package reactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/reactd/internal/store"
)

// Transport delivers a reaction to the messaging platform. An empty emoji
// removes the reaction previously set on the message. Timeouts and non-2xx
// responses are both reported as an error.
type Transport interface {
	SendReaction(ctx context.Context, recipient, messageID, emoji string) error
}

// RecipientCanonicalizer is implemented by transports that accept more than
// one spelling of a recipient (for example "telegram:42" and "42" routed to
// the default channel). The engine keys cooldowns, history and counters on
// the canonical form.
type RecipientCanonicalizer interface {
	CanonicalRecipient(recipient string) string
}

// Store is the subset of store.ReactionStore the engine writes to.
type Store interface {
	RecordReaction(ctx context.Context, messageID string, rec store.ReactionRecord, ttl time.Duration) error
	IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// MetricsSink counts dispatch outcomes. event is one of the Outcome values;
// emoji and reason may be empty.
type MetricsSink interface {
	Increment(event, emoji, reason string)
}

// Level gates which trigger categories produce reactions.
type Level string

const (
	LevelOff     Level = "off"
	LevelMinimal Level = "minimal"
	LevelFull    Level = "full"
)

// ParseLevel accepts the config spelling of a level; empty means full.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "", LevelFull:
		return LevelFull, nil
	case LevelMinimal:
		return LevelMinimal, nil
	case LevelOff:
		return LevelOff, nil
	}
	return "", fmt.Errorf("unknown reaction level %q", s)
}

// Allows reports whether triggers of category c react at this level.
func (l Level) Allows(c Category) bool {
	switch l {
	case LevelOff:
		return false
	case LevelMinimal:
		return c != CategoryUserIntent && c != CategoryUserMetricsProfile
	}
	return true
}

const defaultSendTimeout = 5 * time.Second

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Limits      Limits
	Level       Level
	Catalog     *Catalog
	Flows       map[string]Flow
	HistoryTTL  time.Duration
	CounterTTL  time.Duration
	SendTimeout time.Duration
	Clock       Clock
	Tracer      trace.Tracer

	// OnEvent observes every dispatch attempt. It runs on the dispatching
	// goroutine after bookkeeping and must not block.
	OnEvent func(ReactionEvent)
}

// Settings is the hot-reloadable part of the engine's configuration.
type Settings struct {
	Level       Level
	Catalog     *Catalog
	HistoryTTL  time.Duration
	CounterTTL  time.Duration
	SendTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Level == "" {
		s.Level = LevelFull
	}
	if s.Catalog == nil {
		s.Catalog = DefaultCatalog()
	}
	if s.HistoryTTL <= 0 {
		s.HistoryTTL = store.DefaultHistoryTTL
	}
	if s.CounterTTL <= 0 {
		s.CounterTTL = store.DefaultCounterTTL
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = defaultSendTimeout
	}
	return s
}

// Engine turns triggers into rate-limited reactions. All methods are safe for
// concurrent use and report failure as false; no error escapes the engine.
type Engine struct {
	transport Transport
	store     Store
	metrics   MetricsSink
	onEvent   func(ReactionEvent)
	tracer    trace.Tracer

	guard    *Guard
	flows    *FlowScheduler
	settings atomic.Pointer[Settings]

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an engine. A nil store or sink disables that bookkeeping step.
func New(transport Transport, st Store, sink MetricsSink, opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		transport: transport,
		store:     st,
		metrics:   sink,
		onEvent:   opts.OnEvent,
		tracer:    opts.Tracer,
		ctx:       ctx,
		cancel:    cancel,
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/nextlevelbuilder/reactd/internal/reactions")
	}

	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	e.guard = NewGuard(limits, opts.Clock)

	flows := opts.Flows
	if flows == nil {
		flows = DefaultFlows()
	}
	e.flows = NewFlowScheduler(ctx, flows, opts.Clock, e.dispatchStage)

	s := Settings{
		Level:       opts.Level,
		Catalog:     opts.Catalog,
		HistoryTTL:  opts.HistoryTTL,
		CounterTTL:  opts.CounterTTL,
		SendTimeout: opts.SendTimeout,
	}.withDefaults()
	e.settings.Store(&s)
	return e
}

// Apply swaps the engine's reloadable configuration. Running flow instances
// keep the definition they started with.
func (e *Engine) Apply(s Settings, limits Limits, flows map[string]Flow) {
	s = s.withDefaults()
	e.settings.Store(&s)
	e.guard.SetLimits(limits)
	if flows != nil {
		e.flows.SetFlows(flows)
	}
	slog.Info("reactions: configuration applied",
		"level", s.Level, "per_minute", limits.MaxPerMinute, "per_hour", limits.MaxPerHour, "flows", len(flows))
}

// Settings returns the active reloadable configuration.
func (e *Engine) Settings() Settings { return *e.settings.Load() }

// Catalog returns the active catalog.
func (e *Engine) Catalog() *Catalog { return e.settings.Load().Catalog }

// Flows returns the active flow table.
func (e *Engine) Flows() []Flow { return e.flows.Flows() }

// React resolves t to an emoji and dispatches it. It reports whether the
// reaction reached the transport successfully.
func (e *Engine) React(ctx context.Context, t Trigger) bool {
	s := e.settings.Load()
	if !s.Level.Allows(t.Category) {
		slog.Debug("reactions: category suppressed by level", "level", s.Level, "category", t.Category)
		return false
	}
	emoji, ok := s.Catalog.Resolve(t)
	if !ok {
		slog.Debug("reactions: no catalog entry", "category", t.Category, "key", t.Key,
			"recipient", t.Recipient, "message_id", t.MessageID)
		return false
	}
	return e.dispatch(ctx, PurposeReact, t.Recipient, t.MessageID, emoji)
}

// Remove clears the reaction on messageID. It bypasses the catalog and the
// level gate but still passes through the guard and the transport.
func (e *Engine) Remove(ctx context.Context, recipient, messageID string) bool {
	return e.dispatch(ctx, PurposeRemove, recipient, messageID, "")
}

// StartFlow starts flowKey on messageID, superseding any running instance.
func (e *Engine) StartFlow(ctx context.Context, flowKey, recipient, messageID string) bool {
	if s := e.settings.Load(); s.Level == LevelOff {
		slog.Debug("reactions: flow suppressed by level", "flow", flowKey)
		return false
	}
	_, span := e.tracer.Start(ctx, "reactions.flow.start", trace.WithAttributes(
		attribute.String("reaction.flow", flowKey),
		attribute.String("reaction.message_id", messageID),
	))
	defer span.End()

	if err := e.flows.Start(flowKey, recipient, messageID); err != nil {
		if errors.Is(err, ErrUnknownFlow) {
			slog.Debug("reactions: unknown flow", "flow", flowKey, "message_id", messageID)
		} else {
			slog.Warn("reactions: flow not started", "flow", flowKey, "error", err)
		}
		span.SetStatus(codes.Error, err.Error())
		return false
	}
	return true
}

// CancelFlow stops the running flow on messageID, if any.
func (e *Engine) CancelFlow(messageID string) bool {
	return e.flows.Cancel(messageID)
}

// FlowInstance returns the running flow on messageID.
func (e *Engine) FlowInstance(messageID string) (FlowInstance, bool) {
	return e.flows.Instance(messageID)
}

// Status is a point-in-time summary of engine state.
type Status struct {
	Level       Level      `json:"level"`
	ActiveFlows int        `json:"active_flows"`
	Guard       GuardStats `json:"guard"`
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	return Status{
		Level:       e.settings.Load().Level,
		ActiveFlows: e.flows.Active(),
		Guard:       e.guard.Stats(),
	}
}

// Close invalidates every running flow. Pending stage timers become no-ops.
func (e *Engine) Close() {
	e.flows.Close()
	e.cancel()
}

func (e *Engine) dispatchStage(ctx context.Context, recipient, messageID, emoji string) bool {
	p := PurposeFlowStage
	if emoji == "" {
		p = PurposeRemove
	}
	return e.dispatch(ctx, p, recipient, messageID, emoji)
}

// dispatch runs guard → transport → bookkeeping. The guard lock is released
// before the transport call.
func (e *Engine) dispatch(ctx context.Context, p Purpose, recipient, messageID, emoji string) (ok bool) {
	ctx, span := e.tracer.Start(ctx, "reactions.dispatch", trace.WithAttributes(
		attribute.String("reaction.recipient", recipient),
		attribute.String("reaction.message_id", messageID),
		attribute.String("reaction.emoji", emoji),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reactions: dispatch panic", "recipient", recipient, "message_id", messageID, "panic", r)
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
	}()

	if recipient == "" || messageID == "" {
		slog.Debug("reactions: missing recipient or message id", "recipient", recipient, "message_id", messageID)
		return false
	}
	if c, ok := e.transport.(RecipientCanonicalizer); ok {
		recipient = c.CanonicalRecipient(recipient)
	}

	s := e.settings.Load()
	d := e.guard.EvaluateFor(p, recipient, messageID)
	ev := ReactionEvent{Recipient: recipient, MessageID: messageID, Emoji: emoji, Timestamp: d.At}

	if !d.Allowed {
		ev.Outcome, ev.Reason = OutcomeRateLimited, d.Reason
		span.SetAttributes(attribute.String("reaction.reason", string(d.Reason)))
		e.increment(ev)
		e.emit(ev)
		slog.Debug("reactions: rate limited", "recipient", recipient, "message_id", messageID,
			"emoji", emoji, "reason", d.Reason)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.SendTimeout)
	err := e.send(sendCtx, recipient, messageID, emoji)
	cancel()
	if err != nil {
		e.guard.Release(d)
		ev.Outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.increment(ev)
		e.emit(ev)
		slog.Warn("reactions: transport failed", "recipient", recipient, "message_id", messageID,
			"emoji", emoji, "error", err)
		return false
	}

	ok = true
	e.guard.Record(d)
	ev.Outcome = OutcomeSent
	if emoji == "" {
		ev.Outcome = OutcomeRemoved
	}
	e.persist(ctx, s, ev)
	e.increment(ev)
	e.emit(ev)
	return ok
}

func (e *Engine) send(ctx context.Context, recipient, messageID, emoji string) (err error) {
	if e.transport == nil {
		return errors.New("no transport configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return e.transport.SendReaction(ctx, recipient, messageID, emoji)
}

// persist writes history and counters. Failures are logged only; the
// reaction has already been delivered.
func (e *Engine) persist(ctx context.Context, s *Settings, ev ReactionEvent) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.SendTimeout)
	defer cancel()

	rec := store.ReactionRecord{Recipient: ev.Recipient, Emoji: ev.Emoji, Timestamp: ev.Timestamp}
	if err := e.store.RecordReaction(ctx, ev.MessageID, rec, s.HistoryTTL); err != nil {
		slog.Warn("reactions: record history failed", "message_id", ev.MessageID, "error", err)
	}
	if ev.Emoji == "" {
		return
	}
	for _, key := range []string{store.EmojiCounterKey(ev.Emoji), store.UserCounterKey(ev.Recipient)} {
		if _, err := e.store.IncrementCounter(ctx, key, s.CounterTTL); err != nil {
			slog.Warn("reactions: increment counter failed", "key", key, "error", err)
		}
	}
}

func (e *Engine) increment(ev ReactionEvent) {
	if e.metrics == nil {
		return
	}
	reason := ""
	if ev.Outcome == OutcomeRateLimited {
		reason = string(ev.Reason)
	}
	e.metrics.Increment(string(ev.Outcome), ev.Emoji, reason)
}

func (e *Engine) emit(ev ReactionEvent) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
