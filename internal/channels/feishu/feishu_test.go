package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

// fakeLark serves the token, bot info and reaction endpoints.
type fakeLark struct {
	mu          sync.Mutex
	tokens      int
	expireFirst bool // first authenticated call answers with a token error
	calls       []string
	nextID      int
	failDelete  bool
}

func (f *fakeLark) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == tokenEndpoint {
		f.tokens++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "tenant_access_token": fmt.Sprintf("t-%d", f.tokens), "expire": 7200,
		})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer t-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.expireFirst {
		f.expireFirst = false
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 99991663, "msg": "token expired"})
		return
	}
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/open-apis/bot/v3/info":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "bot": map[string]string{"open_id": "ou_bot", "app_name": "reactd"},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/reactions"):
		var body struct {
			ReactionType struct {
				EmojiType string `json:"emoji_type"`
			} `json:"reaction_type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ReactionType.EmojiType == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 231001, "msg": "reaction type is invalid"})
			return
		}
		f.nextID++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"reaction_id": fmt.Sprintf("r%d", f.nextID)},
		})
	case r.Method == http.MethodDelete:
		if f.failDelete {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 231003, "msg": "reaction not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeLark) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newChannel(t *testing.T, allow ...string) (*Channel, *fakeLark) {
	t.Helper()
	f := &fakeLark{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(config.FeishuConfig{AppID: "cli_a", AppSecret: "s", Domain: srv.URL, AllowFrom: allow})
	require.NoError(t, err)
	return c, f
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.FeishuConfig{AppID: "cli_a"})
	assert.Error(t, err)
}

func TestResolveDomain(t *testing.T) {
	assert.Equal(t, "https://open.larksuite.com", resolveDomain(""))
	assert.Equal(t, "https://open.larksuite.com", resolveDomain("lark"))
	assert.Equal(t, "https://open.feishu.cn", resolveDomain("feishu"))
	assert.Equal(t, "https://lark.example.com", resolveDomain("lark.example.com"))
	assert.Equal(t, "http://127.0.0.1:9000", resolveDomain("http://127.0.0.1:9000/"))
}

func TestStartFetchesBotIdentity(t *testing.T) {
	c, _ := newChannel(t)
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	assert.Equal(t, "ou_bot", c.botOpenID)
}

func TestSetReactionReplacesPrevious(t *testing.T) {
	c, f := newChannel(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "👀"))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "👀"))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "✅"))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", ""))

	assert.Equal(t, []string{
		"GET /open-apis/bot/v3/info",
		"POST /open-apis/im/v1/messages/om_1/reactions",
		"DELETE /open-apis/im/v1/messages/om_1/reactions/r1",
		"POST /open-apis/im/v1/messages/om_1/reactions",
		"DELETE /open-apis/im/v1/messages/om_1/reactions/r2",
	}, f.snapshot())
	_, tracked := c.current.Get("om_1")
	assert.False(t, tracked)
}

func TestSetReactionDeleteFailure(t *testing.T) {
	c, f := newChannel(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "👀"))

	f.mu.Lock()
	f.failDelete = true
	f.mu.Unlock()

	// Replacing tolerates a stale reaction; clearing does not.
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "✅"))
	err := c.SetReaction(ctx, "oc_1", "om_1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reaction not found")
}

func TestTokenRefreshOnExpiredToken(t *testing.T) {
	c, f := newChannel(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	f.mu.Lock()
	f.expireFirst = true
	f.mu.Unlock()

	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_2", "👍"))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.tokens)
}

func TestTokenCachedUntilExpiry(t *testing.T) {
	c, f := newChannel(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.client.now = func() time.Time { return now }

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "👍"))
	f.mu.Lock()
	assert.Equal(t, 1, f.tokens)
	f.mu.Unlock()

	now = now.Add(2 * time.Hour)
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "✅"))
	f.mu.Lock()
	assert.Equal(t, 2, f.tokens)
	f.mu.Unlock()
}

func TestSetReactionGuards(t *testing.T) {
	c, _ := newChannel(t, "oc_allowed")
	ctx := context.Background()
	assert.ErrorIs(t, c.SetReaction(ctx, "oc_allowed", "om_1", "👍"), channels.ErrNotRunning)

	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.SetReaction(ctx, "oc_other", "om_1", "👍"), channels.ErrNotAllowed)
	assert.Error(t, c.SetReaction(ctx, "oc_allowed", "om_1", "🦄"))
}

func TestStopForgetsTrackedReactions(t *testing.T) {
	c, _ := newChannel(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SetReaction(ctx, "oc_1", "om_1", "👍"))
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, 0, c.current.Len())
	assert.False(t, c.IsRunning())
}

func TestEmojiType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"👍", "THUMBSUP", true},
		{"❤️", "HEART", true},
		{"OnIt", "OnIt", true},
		{"SMILE", "SMILE", true},
		{"🦄", "", false},
		{"", "", false},
		{"not valid", "", false},
	}
	for _, tt := range tests {
		got, ok := EmojiType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
