package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads for missing or expired entries.
var ErrNotFound = errors.New("not found")

const (
	// DefaultHistoryTTL is how long the last reaction on a message is kept.
	DefaultHistoryTTL = 24 * time.Hour
	// DefaultCounterTTL is the lifetime of analytics counters.
	DefaultCounterTTL = 30 * 24 * time.Hour
)

const (
	emojiCounterPrefix = "by_emoji:"
	userCounterPrefix  = "by_user:"
)

// EmojiCounterKey is the counter key for reactions sent with emoji.
func EmojiCounterKey(emoji string) string { return emojiCounterPrefix + emoji }

// UserCounterKey is the counter key for reactions sent to recipient.
func UserCounterKey(recipient string) string { return userCounterPrefix + recipient }

// ReactionRecord is the last reaction dispatched on a message.
// An empty Emoji records a removal.
type ReactionRecord struct {
	Recipient string    `json:"recipient"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// ReactionStore persists reaction history and analytics counters.
// Every entry carries a TTL; expired entries read as ErrNotFound.
type ReactionStore interface {
	RecordReaction(ctx context.Context, messageID string, rec ReactionRecord, ttl time.Duration) error
	IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetReaction(ctx context.Context, messageID string) (*ReactionRecord, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	// GetCounters reads several counters at once. Missing and expired keys
	// are absent from the result.
	GetCounters(ctx context.Context, keys []string) (map[string]int64, error)
	Close() error
}

// Purger is implemented by stores that need an external sweep of expired rows.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
