package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/internal/gateway"
	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store/memory"
	"github.com/nextlevelbuilder/reactd/internal/testutil"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

type stubChannel struct {
	*channels.BaseChannel
}

func (c *stubChannel) Start(context.Context) error { c.SetRunning(true); return nil }
func (c *stubChannel) Stop(context.Context) error  { c.SetRunning(false); return nil }
func (c *stubChannel) SetReaction(context.Context, string, string, string) error {
	return nil
}

type rpc struct {
	t    *testing.T
	conn *websocket.Conn
	n    int
}

func setup(t *testing.T) (*rpc, *testutil.RecordingTransport) {
	t.Helper()
	tr := &testutil.RecordingTransport{}
	st := memory.New(100, 0, 0)
	eng := reactions.New(tr, st, nil, reactions.Options{})
	t.Cleanup(eng.Close)

	mgr := channels.NewManager("telegram", nil)
	ch := &stubChannel{BaseChannel: channels.NewBaseChannel("telegram", nil)}
	mgr.RegisterChannel("telegram", ch)
	require.NoError(t, ch.Start(context.Background()))

	s := gateway.NewServer(config.GatewayConfig{}, nil)
	NewReactionsMethods(eng, st).Register(s.Router())
	NewChannelsMethods(mgr).Register(s.Router())

	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rpc{t: t, conn: conn}, tr
}

func (r *rpc) call(method string, params interface{}) protocol.ResponseFrame {
	r.t.Helper()
	r.n++
	id := fmt.Sprintf("%d", r.n)
	require.NoError(r.t, r.conn.WriteJSON(map[string]interface{}{
		"type": protocol.FrameTypeRequest, "id": id, "method": method, "params": params,
	}))
	for {
		_ = r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := r.conn.ReadMessage()
		require.NoError(r.t, err)
		var resp protocol.ResponseFrame
		require.NoError(r.t, json.Unmarshal(raw, &resp))
		if resp.Type == protocol.FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

// payload re-decodes a response payload into v.
func (r *rpc) payload(resp protocol.ResponseFrame, v interface{}) {
	r.t.Helper()
	require.True(r.t, resp.OK, "response error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Payload)
	require.NoError(r.t, err)
	require.NoError(r.t, json.Unmarshal(raw, v))
}

func TestReactHistoryAndCounters(t *testing.T) {
	c, tr := setup(t)

	var res protocol.ResultPayload
	c.payload(c.call(protocol.MethodReact, protocol.ReactParams{
		Recipient: "u1", MessageID: "m1", Category: "user_metrics_profile",
		Metrics: &protocol.MetricsSnapshot{OrderCount: 12},
	}), &res)
	assert.True(t, res.OK)
	require.Len(t, tr.Sent(), 1)
	assert.Equal(t, "👑", tr.Sent()[0].Emoji)

	var hist struct {
		MessageID string `json:"message_id"`
		Record    struct {
			Recipient string `json:"recipient"`
			Emoji     string `json:"emoji"`
		} `json:"record"`
	}
	c.payload(c.call(protocol.MethodHistoryGet, protocol.MessageParams{MessageID: "m1"}), &hist)
	assert.Equal(t, "m1", hist.MessageID)
	assert.Equal(t, "👑", hist.Record.Emoji)

	resp := c.call(protocol.MethodHistoryGet, protocol.MessageParams{MessageID: "never"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrNotFound, resp.Error.Code)

	var counter protocol.CounterPayload
	c.payload(c.call(protocol.MethodCounterGet, protocol.CounterParams{Emoji: "👑"}), &counter)
	assert.Equal(t, int64(1), counter.Count)
	c.payload(c.call(protocol.MethodCounterGet, protocol.CounterParams{Recipient: "nobody"}), &counter)
	assert.Equal(t, int64(0), counter.Count)

	resp = c.call(protocol.MethodCounterGet, protocol.CounterParams{Emoji: "👑", Recipient: "u1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrInvalidRequest, resp.Error.Code)

	var counters protocol.CountersPayload
	c.payload(c.call(protocol.MethodCountersGet, protocol.CountersParams{
		Emojis: []string{"👑", "🎉"}, Recipients: []string{"u1", ""},
	}), &counters)
	assert.Equal(t, map[string]int64{"by_emoji:👑": 1, "by_emoji:🎉": 0, "by_user:u1": 1}, counters.Counts)

	resp = c.call(protocol.MethodCountersGet, protocol.CountersParams{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrInvalidRequest, resp.Error.Code)
}

func TestCounterKeys(t *testing.T) {
	assert.Equal(t,
		[]string{"by_emoji:✅", "by_user:telegram:42"},
		CounterKeys([]string{"✅", "", "✅"}, []string{"telegram:42", "telegram:42"}))
	assert.Empty(t, CounterKeys(nil, nil))
}

func TestReactInvalidParams(t *testing.T) {
	c, tr := setup(t)

	resp := c.call(protocol.MethodReact, protocol.ReactParams{Recipient: "u1", MessageID: "m1", Category: "weather", Key: "sunny"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrInvalidRequest, resp.Error.Code)

	resp = c.call(protocol.MethodRemove, protocol.MessageParams{MessageID: "m1"})
	require.NotNil(t, resp.Error)
	assert.Empty(t, tr.Sent())
}

func TestRateLimitedReactIsFalse(t *testing.T) {
	c, tr := setup(t)

	var res protocol.ResultPayload
	c.payload(c.call(protocol.MethodReact, protocol.ReactParams{Recipient: "u1", MessageID: "m1", Category: "general_state", Key: "seen"}), &res)
	assert.True(t, res.OK)
	// Same message inside the 5s cooldown.
	c.payload(c.call(protocol.MethodReact, protocol.ReactParams{Recipient: "u2", MessageID: "m1", Category: "general_state", Key: "done"}), &res)
	assert.False(t, res.OK)
	assert.Len(t, tr.Sent(), 1)

	// Removal is not subject to cooldowns.
	c.payload(c.call(protocol.MethodRemove, protocol.MessageParams{Recipient: "u1", MessageID: "m1"}), &res)
	assert.True(t, res.OK)
}

func TestFlowMethods(t *testing.T) {
	c, tr := setup(t)

	var flows struct {
		Flows []protocol.FlowInfo `json:"flows"`
	}
	c.payload(c.call(protocol.MethodFlowsList, nil), &flows)
	byKey := make(map[string]protocol.FlowInfo)
	for _, f := range flows.Flows {
		byKey[f.Key] = f
	}
	require.Contains(t, byKey, "order_flow")
	assert.Equal(t, int64(2000), byKey["order_flow"].Stages[1].DelayMs)

	var res protocol.ResultPayload
	c.payload(c.call(protocol.MethodFlowStart, protocol.FlowStartParams{Flow: "order_flow", Recipient: "u1", MessageID: "m7"}), &res)
	assert.True(t, res.OK)
	assert.Equal(t, "📥", tr.Sent()[0].Emoji)

	var status reactions.Status
	c.payload(c.call(protocol.MethodStatus, nil), &status)
	assert.Equal(t, 1, status.ActiveFlows)

	c.payload(c.call(protocol.MethodFlowCancel, protocol.MessageParams{MessageID: "m7"}), &res)
	assert.True(t, res.OK)
	c.payload(c.call(protocol.MethodFlowCancel, protocol.MessageParams{MessageID: "m7"}), &res)
	assert.False(t, res.OK)

	c.payload(c.call(protocol.MethodFlowStart, protocol.FlowStartParams{Flow: "nope", Recipient: "u1", MessageID: "m8"}), &res)
	assert.False(t, res.OK)
}

func TestCatalogAndChannels(t *testing.T) {
	c, _ := setup(t)

	var catalog map[string]map[string]string
	c.payload(c.call(protocol.MethodCatalogGet, nil), &catalog)
	assert.Len(t, catalog, len(reactions.Categories()))
	assert.Equal(t, "🤔", catalog["general_state"]["thinking"])

	var chans struct {
		Channels map[string]channels.ChannelStatus `json:"channels"`
	}
	c.payload(c.call(protocol.MethodChannelsStatus, nil), &chans)
	require.Contains(t, chans.Channels, "telegram")
	assert.True(t, chans.Channels["telegram"].Running)
	assert.True(t, chans.Channels["telegram"].Default)
}
