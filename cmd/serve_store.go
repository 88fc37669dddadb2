package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/internal/store"
	"github.com/nextlevelbuilder/reactd/internal/store/memory"
	"github.com/nextlevelbuilder/reactd/internal/store/pg"
	"github.com/nextlevelbuilder/reactd/internal/store/redis"
)

// openStore opens the configured reaction history backend.
func openStore(ctx context.Context, cfg *config.Config) (store.ReactionStore, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		settings, err := cfg.Reactions.Settings()
		if err != nil {
			return nil, err
		}
		slog.Info("reaction store: memory", "max_entries", cfg.Store.MaxEntries,
			"history_ttl", settings.HistoryTTL, "counter_ttl", settings.CounterTTL)
		return memory.New(cfg.Store.MaxEntries, settings.HistoryTTL, settings.CounterTTL), nil
	case "redis":
		r := cfg.Store.Redis
		return redis.Open(ctx, redis.Config{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
	case "postgres":
		s, err := pg.Open(ctx, cfg.Database.PostgresDSN, cfg.Database.AutoMigrate)
		if err != nil {
			return nil, err
		}
		slog.Info("reaction store: postgres", "auto_migrate", cfg.Database.AutoMigrate)
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
}
