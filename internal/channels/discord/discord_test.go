package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

type fakeAPI struct {
	userErr   error
	addErr    error
	removeErr error
	ops       []string
}

func (f *fakeAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &discordgo.User{ID: "bot-1", Username: "reactd"}, nil
}

func (f *fakeAPI) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.ops = append(f.ops, "add "+channelID+"/"+messageID+" "+emojiID)
	return nil
}

func (f *fakeAPI) MessageReactionRemove(channelID, messageID, emojiID, userID string, _ ...discordgo.RequestOption) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.ops = append(f.ops, "remove "+channelID+"/"+messageID+" "+emojiID+" "+userID)
	return nil
}

func startedChannel(t *testing.T, api *fakeAPI, allow ...string) *Channel {
	t.Helper()
	c := NewWithAPI(config.DiscordConfig{AllowFrom: allow}, api)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestStartFetchesIdentity(t *testing.T) {
	c := startedChannel(t, &fakeAPI{})
	assert.True(t, c.IsRunning())
	assert.Equal(t, "bot-1", c.botUserID)

	bad := NewWithAPI(config.DiscordConfig{}, &fakeAPI{userErr: errors.New("401 unauthorized")})
	assert.Error(t, bad.Start(context.Background()))
	assert.False(t, bad.IsRunning())
}

func TestSetReactionReplacesPrevious(t *testing.T) {
	api := &fakeAPI{}
	c := startedChannel(t, api)
	ctx := context.Background()

	require.NoError(t, c.SetReaction(ctx, "c1", "m1", "📥"))
	require.NoError(t, c.SetReaction(ctx, "c1", "m1", "✅"))
	require.NoError(t, c.SetReaction(ctx, "c1", "m1", ""))
	require.NoError(t, c.SetReaction(ctx, "c1", "m1", ""), "clearing twice is a no-op")

	assert.Equal(t, []string{
		"add c1/m1 📥",
		"remove c1/m1 📥 @me",
		"add c1/m1 ✅",
		"remove c1/m1 ✅ @me",
	}, api.ops)
}

func TestSetReactionSameEmojiDoesNotRemove(t *testing.T) {
	api := &fakeAPI{}
	c := startedChannel(t, api)

	require.NoError(t, c.SetReaction(context.Background(), "c1", "m1", "✅"))
	require.NoError(t, c.SetReaction(context.Background(), "c1", "m1", "✅"))
	assert.Equal(t, []string{"add c1/m1 ✅", "add c1/m1 ✅"}, api.ops)
}

func TestSetReactionErrors(t *testing.T) {
	api := &fakeAPI{}
	c := startedChannel(t, api, "c1")
	ctx := context.Background()

	assert.ErrorIs(t, c.SetReaction(ctx, "c2", "m1", "✅"), channels.ErrNotAllowed)

	api.addErr = errors.New("HTTP 403 Forbidden")
	assert.Error(t, c.SetReaction(ctx, "c1", "m1", "✅"))

	api.addErr = nil
	require.NoError(t, c.SetReaction(ctx, "c1", "m1", "✅"))
	api.removeErr = errors.New("HTTP 500")
	assert.Error(t, c.SetReaction(ctx, "c1", "m1", ""), "a failed clear is reported")
	assert.NoError(t, c.SetReaction(ctx, "c1", "m2", "👀"), "other messages unaffected")

	stopped := NewWithAPI(config.DiscordConfig{}, &fakeAPI{})
	assert.ErrorIs(t, stopped.SetReaction(ctx, "c1", "m1", "✅"), channels.ErrNotRunning)
}
