package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/reactd/internal/store"
)

// newTestStore creates a Store backed by a miniredis server.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, "reactd:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRecordReaction(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := store.ReactionRecord{Recipient: "u1", Emoji: "📋", Timestamp: ts}
	require.NoError(t, s.RecordReaction(ctx, "m1", rec, store.DefaultHistoryTTL))

	assert.True(t, mr.Exists("reactd:history:m1"))
	assert.Equal(t, store.DefaultHistoryTTL, mr.TTL("reactd:history:m1"))

	got, err := s.GetReaction(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Recipient)
	assert.Equal(t, "📋", got.Emoji)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestReactionExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.RecordReaction(ctx, "m1", store.ReactionRecord{Emoji: "✅"}, time.Minute))
	mr.FastForward(time.Minute)

	_, err := s.GetReaction(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIncrementCounter(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	key := store.EmojiCounterKey("✅")

	n, err := s.IncrementCounter(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(30 * time.Minute)
	n, err = s.IncrementCounter(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Hour, mr.TTL("reactd:by_emoji:✅"), "increment refreshes the TTL")

	got, err := s.GetCounter(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	mr.FastForward(time.Hour)
	_, err = s.GetCounter(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServerDown(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = s.Close() })
	mr.Close()

	err = s.RecordReaction(ctx, "m1", store.ReactionRecord{Emoji: "✅"}, time.Minute)
	assert.Error(t, err)
	_, err = s.IncrementCounter(ctx, "by_user:u1", time.Minute)
	assert.Error(t, err)
}

func TestOpenPingFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = Open(context.Background(), Config{Addr: addr})
	assert.Error(t, err)
}

func TestGetCounters(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.IncrementCounter(ctx, store.EmojiCounterKey("✅"), time.Hour)
		require.NoError(t, err)
	}
	_, err := s.IncrementCounter(ctx, store.UserCounterKey("u1"), time.Minute)
	require.NoError(t, err)

	got, err := s.GetCounters(ctx, []string{store.EmojiCounterKey("✅"), store.UserCounterKey("u1"), store.UserCounterKey("u2")})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{store.EmojiCounterKey("✅"): 3, store.UserCounterKey("u1"): 1}, got)

	mr.FastForward(2 * time.Minute)
	got, err = s.GetCounters(ctx, []string{store.UserCounterKey("u1")})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.GetCounters(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
