package reactions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownFlow is returned when no flow is defined for a key.
	ErrUnknownFlow = errors.New("unknown flow")
	// ErrSchedulerClosed is returned by Start after Close.
	ErrSchedulerClosed = errors.New("flow scheduler closed")
)

// Stage is one step of a flow. Delay is measured from the previous stage;
// the first stage's delay is ignored (it fires immediately). An empty Emoji
// removes the current reaction.
type Stage struct {
	Emoji string        `json:"emoji"`
	Delay time.Duration `json:"delay"`
}

// Flow is a named, immutable sequence of stages.
type Flow struct {
	Key    string  `json:"key"`
	Stages []Stage `json:"stages"`
}

// Offsets returns each stage's cumulative offset from flow start.
func (f Flow) Offsets() []time.Duration {
	out := make([]time.Duration, len(f.Stages))
	var acc time.Duration
	for i, s := range f.Stages {
		if i > 0 {
			acc += s.Delay
		}
		out[i] = acc
	}
	return out
}

// Duration is the flow's worst-case wall-clock lifetime.
func (f Flow) Duration() time.Duration {
	offsets := f.Offsets()
	if len(offsets) == 0 {
		return 0
	}
	return offsets[len(offsets)-1]
}

// Validate rejects flows the scheduler cannot order deterministically.
func (f Flow) Validate() error {
	if f.Key == "" {
		return errors.New("flow key is empty")
	}
	if len(f.Stages) == 0 {
		return fmt.Errorf("flow %q has no stages", f.Key)
	}
	for i, s := range f.Stages[1:] {
		if s.Delay <= 0 {
			return fmt.Errorf("flow %q stage %d: delay must be positive", f.Key, i+1)
		}
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DefaultFlows returns the built-in flow table.
func DefaultFlows() map[string]Flow {
	flows := []Flow{
		{Key: "order_flow", Stages: []Stage{
			{Emoji: "📥"},
			{Emoji: "✅", Delay: ms(2000)},
			{Emoji: "👨‍🍳", Delay: ms(1000)},
			{Emoji: "🚚", Delay: ms(1000)},
			{Emoji: "🎉", Delay: ms(1000)},
		}},
		{Key: "payment_flow", Stages: []Stage{
			{Emoji: "⏳"},
			{Emoji: "💳", Delay: ms(1500)},
			{Emoji: "✅", Delay: ms(1500)},
		}},
		{Key: "validation_flow", Stages: []Stage{
			{Emoji: "👀"},
			{Emoji: "⏳", Delay: ms(1000)},
			{Emoji: "✅", Delay: ms(1500)},
		}},
		{Key: "thinking_flow", Stages: []Stage{
			{Emoji: "👀"},
			{Emoji: "🤔", Delay: ms(1500)},
			{Emoji: "✅", Delay: ms(3000)},
		}},
	}
	out := make(map[string]Flow, len(flows))
	for _, f := range flows {
		out[f.Key] = f
	}
	return out
}

// FlowInstance is one running flow on a message.
type FlowInstance struct {
	MessageID  string    `json:"message_id"`
	FlowKey    string    `json:"flow_key"`
	Recipient  string    `json:"recipient"`
	Generation uuid.UUID `json:"generation"`
	Stage      int       `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	Active     bool      `json:"active"`

	flow Flow
}

// StageDispatcher sends one stage's reaction. It must not block on the
// scheduler's lock.
type StageDispatcher func(ctx context.Context, recipient, messageID, emoji string) bool

// FlowScheduler runs timed multi-stage flows. At most one active instance
// exists per message; starting a flow on a message supersedes the previous
// instance by replacing its generation token, which turns the previous
// instance's pending timers into no-ops.
type FlowScheduler struct {
	mu        sync.Mutex
	clock     Clock
	ctx       context.Context
	flows     map[string]Flow
	instances map[string]*FlowInstance
	dispatch  StageDispatcher
	closed    bool
}

// NewFlowScheduler creates a scheduler. ctx is handed to stage dispatches
// fired from timers.
func NewFlowScheduler(ctx context.Context, flows map[string]Flow, clock Clock, dispatch StageDispatcher) *FlowScheduler {
	if clock == nil {
		clock = SystemClock()
	}
	s := &FlowScheduler{
		clock:     clock,
		ctx:       ctx,
		instances: make(map[string]*FlowInstance),
		dispatch:  dispatch,
	}
	s.SetFlows(flows)
	return s
}

// SetFlows replaces the flow table. Running instances keep their definition.
func (s *FlowScheduler) SetFlows(flows map[string]Flow) {
	cp := make(map[string]Flow, len(flows))
	for k, f := range flows {
		if f.Key == "" {
			f.Key = k
		}
		cp[k] = f
	}
	s.mu.Lock()
	s.flows = cp
	s.mu.Unlock()
}

// Flows returns the flow table sorted by key.
func (s *FlowScheduler) Flows() []Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Flow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Start creates an instance of flowKey on messageID, dispatches stage 0 and
// schedules the remaining stages at their cumulative offsets.
func (s *FlowScheduler) Start(flowKey, recipient, messageID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	flow, ok := s.flows[flowKey]
	if !ok || len(flow.Stages) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFlow, flowKey)
	}

	if prev, ok := s.instances[messageID]; ok {
		prev.Active = false
		delete(s.instances, messageID)
	}

	inst := &FlowInstance{
		MessageID:  messageID,
		FlowKey:    flow.Key,
		Recipient:  recipient,
		Generation: uuid.New(),
		StartedAt:  s.clock.Now(),
		Active:     true,
		flow:       flow,
	}
	if len(flow.Stages) > 1 {
		s.instances[messageID] = inst
	}

	token := inst.Generation
	offsets := flow.Offsets()
	for i := 1; i < len(flow.Stages); i++ {
		stage := i
		s.clock.AfterFunc(offsets[i], func() { s.fire(messageID, token, stage) })
	}
	first := flow.Stages[0].Emoji
	s.mu.Unlock()

	s.dispatch(s.ctx, recipient, messageID, first)
	return nil
}

// fire runs stage i of the instance stamped with token, unless the instance
// was cancelled, superseded, or is not at stage i-1.
func (s *FlowScheduler) fire(messageID string, token uuid.UUID, i int) {
	s.mu.Lock()
	inst, ok := s.instances[messageID]
	if s.closed || !ok || !inst.Active || inst.Generation != token || inst.Stage != i-1 {
		s.mu.Unlock()
		return
	}
	inst.Stage = i
	if i == len(inst.flow.Stages)-1 {
		delete(s.instances, messageID)
	}
	recipient := inst.Recipient
	emoji := inst.flow.Stages[i].Emoji
	s.mu.Unlock()

	s.dispatch(s.ctx, recipient, messageID, emoji)
}

// Cancel deactivates the active instance on messageID. Pending timers of the
// cancelled instance become no-ops. Reports whether anything was cancelled.
func (s *FlowScheduler) Cancel(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[messageID]
	if !ok || !inst.Active {
		return false
	}
	inst.Active = false
	delete(s.instances, messageID)
	return true
}

// Instance returns a copy of the active instance on messageID.
func (s *FlowScheduler) Instance(messageID string) (FlowInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[messageID]
	if !ok {
		return FlowInstance{}, false
	}
	return *inst, true
}

// Active returns the number of running instances.
func (s *FlowScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// Close deactivates every instance and rejects further starts.
func (s *FlowScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, inst := range s.instances {
		inst.Active = false
		delete(s.instances, id)
	}
}
