package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/config"
)

// fakeBridge acknowledges reaction frames; emoji "💥" is rejected and
// emoji "🐢" is never acknowledged.
type fakeBridge struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	frames   []bridgeFrame
	conns    []*websocket.Conn
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	for {
		var f bridgeFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, f)
		b.mu.Unlock()

		switch f.Emoji {
		case "🐢":
			continue
		case "💥":
			_ = conn.WriteJSON(bridgeFrame{Type: "reaction_ack", ID: f.ID, Error: "message not found"})
		default:
			_ = conn.WriteJSON(bridgeFrame{Type: "reaction_ack", ID: f.ID, OK: true})
		}
	}
}

func (b *fakeBridge) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.conns = nil
}

func startBridge(t *testing.T) (*Bridge, *fakeBridge) {
	t.Helper()
	fb := &fakeBridge{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	b, err := NewBridge(config.WhatsAppConfig{BridgeURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	require.Eventually(t, b.Connected, 2*time.Second, 10*time.Millisecond)
	return b, fb
}

func TestNewRequiresBridgeURL(t *testing.T) {
	_, err := New(config.WhatsAppConfig{Mode: "bridge"})
	assert.Error(t, err)
	_, err = New(config.WhatsAppConfig{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestBridgeSetReaction(t *testing.T) {
	b, fb := startBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, b.SetReaction(ctx, "15551234567@s.whatsapp.net", "3EB0A1", "👀"))
	require.NoError(t, b.SetReaction(ctx, "15551234567@s.whatsapp.net", "3EB0A1", ""))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.frames, 2)
	assert.Equal(t, "reaction", fb.frames[0].Type)
	assert.Equal(t, "15551234567@s.whatsapp.net", fb.frames[0].To)
	assert.Equal(t, "3EB0A1", fb.frames[0].MessageID)
	assert.Equal(t, "👀", fb.frames[0].Emoji)
	assert.NotEmpty(t, fb.frames[0].ID)
	assert.Equal(t, "", fb.frames[1].Emoji)
}

func TestBridgeRejectedAndTimeout(t *testing.T) {
	b, _ := startBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.SetReaction(ctx, "1@s.whatsapp.net", "m1", "💥")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message not found")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	err = b.SetReaction(ctx2, "1@s.whatsapp.net", "m1", "🐢")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeReconnects(t *testing.T) {
	b, fb := startBridge(t)

	fb.dropConnections()
	require.Eventually(t, func() bool { return !b.Connected() }, 2*time.Second, 10*time.Millisecond)

	// The first reconnect attempt happens after one second of backoff.
	require.Eventually(t, b.Connected, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, b.SetReaction(ctx, "1@s.whatsapp.net", "m2", "✅"))
}

func TestBridgeDisconnected(t *testing.T) {
	b, err := NewBridge(config.WhatsAppConfig{BridgeURL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	err = b.SetReaction(context.Background(), "1@s.whatsapp.net", "m1", "✅")
	assert.ErrorIs(t, err, errBridgeDisconnected)
}
