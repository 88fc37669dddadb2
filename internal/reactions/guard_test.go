package reactions

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/testutil"
)

func allowAndRecord(t *testing.T, g *Guard, p Purpose, recipient, messageID string) {
	t.Helper()
	d := g.EvaluateFor(p, recipient, messageID)
	require.True(t, d.Allowed, "expected %s/%s to be allowed, got %s", recipient, messageID, d.Reason)
	g.Record(d)
}

func TestGuardMinuteWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	for i := 0; i < 10; i++ {
		allowAndRecord(t, g, PurposeReact, "u1", fmt.Sprintf("m%d", i))
		clock.Advance(time.Second)
	}

	d := g.Evaluate("u1", "m10")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimitMinute, d.Reason)

	// The first send leaves the window 60s after it was recorded.
	clock.Advance(50 * time.Second)
	d = g.Evaluate("u1", "m10")
	assert.True(t, d.Allowed)
}

func TestGuardHourWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	// 10 per minute keeps the minute window saturated but never over.
	for i := 0; i < 200; i++ {
		allowAndRecord(t, g, PurposeReact, "u1", fmt.Sprintf("m%d", i))
		clock.Advance(6 * time.Second)
	}

	d := g.Evaluate("u1", "m200")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimitHour, d.Reason)
}

func TestGuardMessageCooldown(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")

	clock.Advance(2 * time.Second)
	d := g.Evaluate("u2", "m1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldownMessage, d.Reason)

	clock.Advance(3 * time.Second)
	d = g.Evaluate("u2", "m1")
	assert.True(t, d.Allowed)
}

func TestGuardUserCooldown(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")

	clock.Advance(500 * time.Millisecond)
	d := g.Evaluate("u1", "m2")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldownUser, d.Reason)

	clock.Advance(500 * time.Millisecond)
	d = g.Evaluate("u1", "m2")
	assert.True(t, d.Allowed)
}

func TestGuardCheckOrder(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(Limits{MaxPerMinute: 1, MaxPerHour: 10, MessageCooldown: time.Minute, UserCooldown: time.Minute}, clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")

	// Every check would deny; the minute window is reported first.
	d := g.Evaluate("u1", "m1")
	assert.Equal(t, ReasonRateLimitMinute, d.Reason)
}

func TestGuardReservationBlocksUntilSettled(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	first := g.Evaluate("u1", "m1")
	require.True(t, first.Allowed)

	second := g.Evaluate("u1", "m2")
	assert.False(t, second.Allowed)
	assert.Equal(t, ReasonCooldownUser, second.Reason)

	g.Release(first)
	third := g.Evaluate("u1", "m2")
	assert.True(t, third.Allowed)
	assert.Equal(t, 1, g.Stats().InFlight)
}

func TestGuardReleaseDoesNotStamp(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	d := g.Evaluate("u1", "m1")
	g.Release(d)

	stats := g.Stats()
	assert.Zero(t, stats.SentLastMinute)
	assert.Zero(t, stats.TrackedUsers)
	assert.True(t, g.Evaluate("u1", "m1").Allowed)
}

func TestGuardRecordIsIdempotent(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	d := g.Evaluate("u1", "m1")
	g.Record(d)
	g.Record(d)
	g.Release(d)

	assert.Equal(t, 1, g.Stats().SentLastMinute)

	denied := g.Evaluate("u1", "m1")
	g.Record(denied)
	assert.Equal(t, 1, g.Stats().SentLastMinute)
}

func TestGuardRemovalSkipsCooldowns(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")
	allowAndRecord(t, g, PurposeRemove, "u1", "m1")
	allowAndRecord(t, g, PurposeRemove, "u1", "m1")

	stats := g.Stats()
	assert.Equal(t, 3, stats.SentLastMinute)

	// Removals do not push the user cooldown forward.
	clock.Advance(time.Second)
	assert.True(t, g.Evaluate("u1", "m2").Allowed)
}

func TestGuardRemovalObeysWindows(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(Limits{MaxPerMinute: 2, MaxPerHour: 100}, clock)

	allowAndRecord(t, g, PurposeRemove, "u1", "m1")
	allowAndRecord(t, g, PurposeRemove, "u1", "m1")

	d := g.EvaluateFor(PurposeRemove, "u1", "m1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimitMinute, d.Reason)
}

func TestGuardFlowStageSkipsCooldowns(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeFlowStage, "u1", "m1")
	clock.Advance(995 * time.Millisecond)
	allowAndRecord(t, g, PurposeFlowStage, "u1", "m1")
	allowAndRecord(t, g, PurposeFlowStage, "u1", "m1")

	// Stages still stamp both cooldowns for trigger reactions.
	d := g.Evaluate("u1", "m2")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldownUser, d.Reason)

	clock.Advance(time.Second)
	d = g.Evaluate("u2", "m1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldownMessage, d.Reason)

	// Stages still count toward the rate windows.
	assert.Equal(t, 3, g.Stats().SentLastMinute)
}

func TestGuardFlowStageObeysRateWindows(t *testing.T) {
	clock := testutil.NewFakeClock()
	limits := DefaultLimits()
	limits.MaxPerMinute = 2
	g := NewGuard(limits, clock)

	allowAndRecord(t, g, PurposeFlowStage, "u1", "m1")
	allowAndRecord(t, g, PurposeFlowStage, "u1", "m1")

	d := g.EvaluateFor(PurposeFlowStage, "u1", "m1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimitMinute, d.Reason)
}

func TestGuardWindowsPurge(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")
	clock.Advance(61 * time.Second)

	stats := g.Stats()
	assert.Zero(t, stats.SentLastMinute)
	assert.Equal(t, 1, stats.SentLastHour)

	clock.Advance(time.Hour)
	assert.Zero(t, g.Stats().SentLastHour)
}

func TestGuardConcurrentEvaluateNeverOvershoots(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(Limits{MaxPerMinute: 10, MaxPerHour: 200}, clock)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := g.Evaluate(fmt.Sprintf("u%d", i), fmt.Sprintf("m%d", i))
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
				g.Record(d)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	assert.Equal(t, 10, g.Stats().SentLastMinute)
}

func TestGuardSetLimits(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := NewGuard(DefaultLimits(), clock)

	allowAndRecord(t, g, PurposeReact, "u1", "m1")
	g.SetLimits(Limits{MaxPerMinute: 1, MaxPerHour: 10})

	d := g.Evaluate("u2", "m2")
	assert.Equal(t, ReasonRateLimitMinute, d.Reason)
	assert.Equal(t, 1, g.Limits().MaxPerMinute)
}
