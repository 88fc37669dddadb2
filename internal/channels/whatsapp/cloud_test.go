package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

type graphServer struct {
	mu       sync.Mutex
	bodies   []reactionMessage
	auth     []string
	status   int
	slowness time.Duration
}

func (g *graphServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.slowness > 0 {
		time.Sleep(g.slowness)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auth = append(g.auth, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v21.0/PN1":
		_ = json.NewEncoder(w).Encode(map[string]string{"display_phone_number": "+1 555 0100", "id": "PN1"})
	case r.Method == http.MethodPost && r.URL.Path == "/v21.0/PN1/messages":
		if g.status != 0 {
			w.WriteHeader(g.status)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
			return
		}
		var m reactionMessage
		_ = json.NewDecoder(r.Body).Decode(&m)
		g.bodies = append(g.bodies, m)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.reaction"}]}`))
	default:
		http.NotFound(w, r)
	}
}

func newCloud(t *testing.T, allow ...string) (*Cloud, *graphServer) {
	t.Helper()
	g := &graphServer{}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	c, err := NewCloud(config.WhatsAppConfig{
		PhoneNumberID: "PN1",
		BaseURL:       srv.URL + "/",
		AccessToken:   "EAAG-test",
		AllowFrom:     allow,
	}, srv.Client())
	require.NoError(t, err)
	return c, g
}

func TestNewCloudRequiresCredentials(t *testing.T) {
	_, err := NewCloud(config.WhatsAppConfig{AccessToken: "x"}, nil)
	assert.Error(t, err)
	_, err = NewCloud(config.WhatsAppConfig{PhoneNumberID: "PN1"}, nil)
	assert.Error(t, err)
}

func TestCloudSetReaction(t *testing.T) {
	c, g := newCloud(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.SetReaction(ctx, "15551234567", "wamid.ABC", "✅"))
	require.NoError(t, c.SetReaction(ctx, "15551234567", "wamid.ABC", ""))

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.bodies, 2)
	assert.Equal(t, reactionMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               "15551234567",
		Type:             "reaction",
		Reaction:         reactionField{MessageID: "wamid.ABC", Emoji: "✅"},
	}, g.bodies[0])
	assert.Equal(t, "", g.bodies[1].Reaction.Emoji)
	for _, a := range g.auth {
		assert.Equal(t, "Bearer EAAG-test", a)
	}
}

func TestCloudNon2xxIsError(t *testing.T) {
	c, g := newCloud(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	g.mu.Lock()
	g.status = http.StatusBadRequest
	g.mu.Unlock()

	err := c.SetReaction(ctx, "15551234567", "wamid.ABC", "✅")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400: Invalid parameter (code 100)")
}

func TestCloudTimeoutIsError(t *testing.T) {
	c, g := newCloud(t)
	g.slowness = 200 * time.Millisecond
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SetReaction(ctx, "15551234567", "wamid.ABC", "✅"))
}

func TestCloudGuards(t *testing.T) {
	c, _ := newCloud(t, "15550000000")
	ctx := context.Background()
	assert.ErrorIs(t, c.SetReaction(ctx, "15550000000", "wamid.A", "✅"), channels.ErrNotRunning)

	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.SetReaction(ctx, "15551234567", "wamid.A", "✅"), channels.ErrNotAllowed)
}
