package reactions

import (
	"sort"
	"sync"
	"time"
)

const (
	minuteWindow = 60 * time.Second
	hourWindow   = time.Hour

	// maxTrackedKeys bounds the cooldown maps; stale entries are pruned once
	// either map grows past it.
	maxTrackedKeys = 4096
)

// Limits configures the guard. Zero cooldowns disable the cooldown check;
// maxima <= 0 disable the corresponding window.
type Limits struct {
	MaxPerMinute    int
	MaxPerHour      int
	MessageCooldown time.Duration
	UserCooldown    time.Duration
}

// DefaultLimits mirrors the messaging platform's anti-spam thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxPerMinute:    10,
		MaxPerHour:      200,
		MessageCooldown: 5 * time.Second,
		UserCooldown:    time.Second,
	}
}

// Purpose tells the guard which checks apply to a dispatch.
type Purpose int

const (
	// PurposeReact is a trigger-derived reaction: every check applies.
	PurposeReact Purpose = iota
	// PurposeFlowStage is a scheduled flow stage. Stage spacing is owned by
	// the flow, so both cooldowns are skipped; the stage still counts toward
	// the rate windows and stamps the cooldowns for later reactions.
	PurposeFlowStage
	// PurposeRemove clears a reaction: only the rate windows apply, and a
	// removal does not stamp cooldowns.
	PurposeRemove
)

// Decision is the guard's verdict. An allowed decision holds a reservation
// that must be settled with Record (dispatch succeeded) or Release (it did not).
type Decision struct {
	Allowed   bool
	Reason    Reason
	Recipient string
	MessageID string
	At        time.Time

	purpose Purpose
	ticket  uint64
}

type reservation struct {
	recipient string
	messageID string
}

// Guard tracks sliding send windows and cooldowns. It never fails: missing
// state means "never sent". Safe for concurrent use.
type Guard struct {
	mu     sync.Mutex
	clock  Clock
	limits Limits

	perMinute     []time.Time
	perHour       []time.Time
	lastByMessage map[string]time.Time
	lastByUser    map[string]time.Time

	nextTicket      uint64
	reservations    map[uint64]reservation
	pendingMessages map[string]int
	pendingUsers    map[string]int
}

// NewGuard creates a guard. A nil clock uses the system clock.
func NewGuard(limits Limits, clock Clock) *Guard {
	if clock == nil {
		clock = SystemClock()
	}
	return &Guard{
		clock:           clock,
		limits:          limits,
		lastByMessage:   make(map[string]time.Time),
		lastByUser:      make(map[string]time.Time),
		reservations:    make(map[uint64]reservation),
		pendingMessages: make(map[string]int),
		pendingUsers:    make(map[string]int),
	}
}

// SetLimits replaces the limits. Existing window contents are kept.
func (g *Guard) SetLimits(l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = l
}

// Limits returns the active limits.
func (g *Guard) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// Evaluate checks a trigger-derived reaction for recipient on messageID.
func (g *Guard) Evaluate(recipient, messageID string) Decision {
	return g.EvaluateFor(PurposeReact, recipient, messageID)
}

// EvaluateFor checks a dispatch of the given purpose. Checks run in a fixed
// order: minute window, hour window, message cooldown, user cooldown. The
// cooldowns apply to PurposeReact only.
func (g *Guard) EvaluateFor(p Purpose, recipient, messageID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.purgeLocked(now)

	d := Decision{
		Recipient: recipient,
		MessageID: messageID,
		At:        now,
		purpose:   p,
	}
	inFlight := len(g.reservations)

	switch {
	case g.limits.MaxPerMinute > 0 && len(g.perMinute)+inFlight >= g.limits.MaxPerMinute:
		d.Reason = ReasonRateLimitMinute
	case g.limits.MaxPerHour > 0 && len(g.perHour)+inFlight >= g.limits.MaxPerHour:
		d.Reason = ReasonRateLimitHour
	case p == PurposeReact && g.messageCoolingLocked(messageID, now):
		d.Reason = ReasonCooldownMessage
	case p == PurposeReact && g.userCoolingLocked(recipient, now):
		d.Reason = ReasonCooldownUser
	default:
		d.Allowed = true
		d.Reason = ReasonOK
		g.nextTicket++
		d.ticket = g.nextTicket
		g.reservations[d.ticket] = reservation{recipient: recipient, messageID: messageID}
		g.pendingMessages[messageID]++
		g.pendingUsers[recipient]++
	}
	return d
}

// Record commits an allowed decision after a successful dispatch: the send is
// appended to both windows and, unless it was a removal, stamps both cooldowns
// at the decision time. Recording twice or recording a denied decision is a no-op.
func (g *Guard) Record(d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.settleLocked(d) {
		return
	}
	g.perMinute = insertSorted(g.perMinute, d.At)
	g.perHour = insertSorted(g.perHour, d.At)
	if d.purpose == PurposeRemove {
		return
	}
	if last, ok := g.lastByMessage[d.MessageID]; !ok || d.At.After(last) {
		g.lastByMessage[d.MessageID] = d.At
	}
	if last, ok := g.lastByUser[d.Recipient]; !ok || d.At.After(last) {
		g.lastByUser[d.Recipient] = d.At
	}
}

// Release drops the reservation of an allowed decision whose dispatch failed.
func (g *Guard) Release(d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settleLocked(d)
}

// GuardStats is a point-in-time view of the guard's windows.
type GuardStats struct {
	SentLastMinute  int `json:"sent_last_minute"`
	SentLastHour    int `json:"sent_last_hour"`
	InFlight        int `json:"in_flight"`
	TrackedMessages int `json:"tracked_messages"`
	TrackedUsers    int `json:"tracked_users"`
}

// Stats purges expired entries and reports window sizes.
func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked(g.clock.Now())
	return GuardStats{
		SentLastMinute:  len(g.perMinute),
		SentLastHour:    len(g.perHour),
		InFlight:        len(g.reservations),
		TrackedMessages: len(g.lastByMessage),
		TrackedUsers:    len(g.lastByUser),
	}
}

func (g *Guard) settleLocked(d Decision) bool {
	if !d.Allowed || d.ticket == 0 {
		return false
	}
	r, ok := g.reservations[d.ticket]
	if !ok {
		return false
	}
	delete(g.reservations, d.ticket)
	decrement(g.pendingMessages, r.messageID)
	decrement(g.pendingUsers, r.recipient)
	return true
}

func (g *Guard) messageCoolingLocked(messageID string, now time.Time) bool {
	if g.pendingMessages[messageID] > 0 {
		return true
	}
	last, ok := g.lastByMessage[messageID]
	return ok && now.Sub(last) < g.limits.MessageCooldown
}

func (g *Guard) userCoolingLocked(recipient string, now time.Time) bool {
	if g.pendingUsers[recipient] > 0 {
		return true
	}
	last, ok := g.lastByUser[recipient]
	return ok && now.Sub(last) < g.limits.UserCooldown
}

// purgeLocked drops window entries that fell out of their window and, when a
// cooldown map is over maxTrackedKeys, entries whose cooldown has elapsed.
func (g *Guard) purgeLocked(now time.Time) {
	g.perMinute = dropBefore(g.perMinute, now.Add(-minuteWindow))
	g.perHour = dropBefore(g.perHour, now.Add(-hourWindow))

	if len(g.lastByMessage) > maxTrackedKeys {
		pruneStale(g.lastByMessage, now, g.limits.MessageCooldown)
	}
	if len(g.lastByUser) > maxTrackedKeys {
		pruneStale(g.lastByUser, now, g.limits.UserCooldown)
	}
}

// dropBefore removes the prefix of ts that is at or before cutoff.
// ts must be sorted ascending.
func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}

func insertSorted(ts []time.Time, t time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(t) })
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	return ts
}

func pruneStale(m map[string]time.Time, now time.Time, cooldown time.Duration) {
	for k, at := range m {
		if now.Sub(at) >= cooldown {
			delete(m, k)
		}
	}
}

func decrement(m map[string]int, key string) {
	if m[key] <= 1 {
		delete(m, key)
		return
	}
	m[key]--
}
