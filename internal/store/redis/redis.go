// Package redis is a ReactionStore backed by Redis. Expiry is delegated to
// Redis key TTLs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/reactd/internal/store"
)

// Client is the subset of go-redis client methods used by Store.
// Keeping it as an interface enables swapping in a cluster or ring client.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// Config holds connection settings for the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements store.ReactionStore on Redis.
type Store struct {
	client Client
	prefix string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts := &redis.Options{Addr: cfg.Addr, DB: cfg.DB}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Addr, err)
	}
	slog.Info("redis store connected", "addr", cfg.Addr, "db", cfg.DB)
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) historyKey(messageID string) string { return s.prefix + "history:" + messageID }

func (s *Store) counterKey(key string) string { return s.prefix + key }

func (s *Store) RecordReaction(ctx context.Context, messageID string, rec store.ReactionRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal reaction: %w", err)
	}
	if err := s.client.Set(ctx, s.historyKey(messageID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set history %s: %w", messageID, err)
	}
	return nil
}

// IncrementCounter runs INCR and EXPIRE in one transaction, so every
// increment refreshes the counter's TTL.
func (s *Store) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.counterKey(key)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *Store) GetReaction(ctx context.Context, messageID string) (*store.ReactionRecord, error) {
	data, err := s.client.Get(ctx, s.historyKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history %s: %w", messageID, err)
	}
	var rec store.ReactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", messageID, err)
	}
	return &rec, nil
}

func (s *Store) GetCounter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.counterKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counter %s: %w", key, err)
	}
	return n, nil
}

// GetCounters reads keys with one MGET.
func (s *Store) GetCounters(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.counterKey(k)
	}
	vals, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget counters: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode counter %s: %w", keys[i], err)
		}
		out[keys[i]] = n
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
