// Package memory is an in-process ReactionStore. Both history and counters
// live in size-bounded LRU caches that also evict on TTL, so the store never
// needs an external cleanup call.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/reactd/internal/store"
)

// DefaultMaxEntries bounds each cache when no size is configured.
const DefaultMaxEntries = 10000

type historyEntry struct {
	rec       store.ReactionRecord
	expiresAt time.Time
}

type counterEntry struct {
	n         int64
	expiresAt time.Time
}

// Store implements store.ReactionStore in memory.
type Store struct {
	mu       sync.Mutex // serializes counter read-modify-write
	now      func() time.Time
	history  *expirable.LRU[string, historyEntry]
	counters *expirable.LRU[string, counterEntry]
}

// New creates a memory store holding at most maxEntries messages and
// maxEntries counters. historyTTL and counterTTL bound how long the caches
// keep an entry; zero or negative selects the store package defaults. A
// per-call ttl longer than the bound is capped by it.
func New(maxEntries int, historyTTL, counterTTL time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if historyTTL <= 0 {
		historyTTL = store.DefaultHistoryTTL
	}
	if counterTTL <= 0 {
		counterTTL = store.DefaultCounterTTL
	}
	return &Store{
		now:      time.Now,
		history:  expirable.NewLRU[string, historyEntry](maxEntries, nil, historyTTL),
		counters: expirable.NewLRU[string, counterEntry](maxEntries, nil, counterTTL),
	}
}

func (s *Store) RecordReaction(_ context.Context, messageID string, rec store.ReactionRecord, ttl time.Duration) error {
	s.history.Add(messageID, historyEntry{rec: rec, expiresAt: s.now().Add(ttl)})
	return nil
}

// IncrementCounter bumps key and pushes its expiry to now+ttl.
func (s *Store) IncrementCounter(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.counters.Get(key)
	if !ok || !now.Before(e.expiresAt) {
		e = counterEntry{}
	}
	e.n++
	e.expiresAt = now.Add(ttl)
	s.counters.Add(key, e)
	return e.n, nil
}

func (s *Store) GetReaction(_ context.Context, messageID string) (*store.ReactionRecord, error) {
	e, ok := s.history.Get(messageID)
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, store.ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

func (s *Store) GetCounter(_ context.Context, key string) (int64, error) {
	e, ok := s.counters.Get(key)
	if !ok || !s.now().Before(e.expiresAt) {
		return 0, store.ErrNotFound
	}
	return e.n, nil
}

func (s *Store) GetCounters(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		if n, err := s.GetCounter(ctx, k); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// Len returns the number of history and counter entries held.
func (s *Store) Len() (history, counters int) {
	return s.history.Len(), s.counters.Len()
}

func (s *Store) Close() error {
	s.history.Purge()
	s.counters.Purge()
	return nil
}
