package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store/memory"
	"github.com/nextlevelbuilder/reactd/internal/testutil"
)

func TestApplyReload(t *testing.T) {
	eng := reactions.New(&testutil.RecordingTransport{}, nil, nil, reactions.Options{})
	t.Cleanup(eng.Close)

	current := config.Default()
	next := config.Default()
	next.Reactions.Level = "minimal"
	next.Reactions.Flows = map[string][]config.FlowStageConfig{
		"wave": {{Emoji: "👋"}, {Emoji: "🙌", DelayMs: 500}},
	}

	applyReload(eng, current, next)
	assert.Equal(t, reactions.LevelMinimal, eng.Settings().Level)
	assert.Equal(t, "minimal", current.ReactionsSnapshot().Level)

	var keys []string
	for _, f := range eng.Flows() {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "wave")

	bad := config.Default()
	bad.Reactions.Level = "loud"
	applyReload(eng, current, bad)
	assert.Equal(t, reactions.LevelMinimal, eng.Settings().Level, "invalid reload must be ignored")
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Default()
	st, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &memory.Store{}, st)

	cfg.Reactions.HistoryTTL = "forever"
	_, err = openStore(context.Background(), cfg)
	assert.Error(t, err, "memory cache lifetimes come from the reactions section")

	cfg.Reactions.HistoryTTL = "96h"
	cfg.Store.Backend = "etcd"
	_, err = openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildChannels(t *testing.T) {
	_, err := buildChannels(config.ChannelsConfig{})
	assert.Error(t, err, "no channels configured")

	mgr, err := buildChannels(config.ChannelsConfig{
		Slack: config.SlackConfig{Enabled: true, BotToken: "xoxb-test"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"slack"}, mgr.GetEnabledChannels())
}
