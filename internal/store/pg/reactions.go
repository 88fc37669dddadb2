package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/reactd/internal/store"
)

// Store implements store.ReactionStore backed by Postgres. Expired rows are
// invisible to reads and removed by PurgeExpired.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RecordReaction(ctx context.Context, messageID string, rec store.ReactionRecord, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reaction_history (message_id, recipient, emoji, reacted_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (message_id) DO UPDATE SET
		   recipient = EXCLUDED.recipient,
		   emoji = EXCLUDED.emoji,
		   reacted_at = EXCLUDED.reacted_at,
		   expires_at = EXCLUDED.expires_at`,
		messageID, rec.Recipient, rec.Emoji, rec.Timestamp, expires)
	if err != nil {
		return fmt.Errorf("upsert reaction history: %w", err)
	}
	return nil
}

// IncrementCounter upserts key. An expired row restarts at 1; every
// increment pushes expires_at to now+ttl.
func (s *Store) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reaction_counters (key, count, updated_at, expires_at)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN reaction_counters.expires_at <= $2 THEN 1 ELSE reaction_counters.count + 1 END,
		   updated_at = $2,
		   expires_at = $3
		 RETURNING count`,
		key, now, now.Add(ttl)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) GetReaction(ctx context.Context, messageID string) (*store.ReactionRecord, error) {
	var rec store.ReactionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient, emoji, reacted_at FROM reaction_history
		 WHERE message_id = $1 AND expires_at > $2`,
		messageID, s.now()).Scan(&rec.Recipient, &rec.Emoji, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reaction history: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetCounter(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM reaction_counters WHERE key = $1 AND expires_at > $2`,
		key, s.now()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

// GetCounters reads every live key in one query.
func (s *Store) GetCounters(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, count FROM reaction_counters
		 WHERE key = ANY($1) AND expires_at > $2`,
		pq.Array(keys), s.now())
	if err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	return out, nil
}

// PurgeExpired deletes expired history and counter rows and returns how many
// rows were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, table := range []string{"reaction_history", "reaction_counters"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= $1`, now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
