package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultCleanupSchedule runs the expired-row purge every 10 minutes.
const DefaultCleanupSchedule = "*/10 * * * *"

// Sweeper calls a Purger on a cron schedule.
type Sweeper struct {
	purger   Purger
	schedule string
	now      func() time.Time
}

// NewSweeper validates the cron expression. An empty schedule uses
// DefaultCleanupSchedule.
func NewSweeper(p Purger, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid cleanup schedule %q", schedule)
	}
	return &Sweeper{purger: p, schedule: schedule, now: time.Now}, nil
}

// Next returns the first tick strictly after t.
func (s *Sweeper) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.schedule, t, false)
}

// Run purges on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("store sweeper started", "schedule", s.schedule)
	for {
		now := s.now()
		next, err := s.Next(now)
		if err != nil {
			return fmt.Errorf("next cleanup tick: %w", err)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.sweep(ctx)
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Warn("store purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("store purge", "removed", n)
	}
}
