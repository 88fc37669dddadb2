package config

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/reactd/internal/reactions"
)

// ReactionsConfig is the hot-reloadable section driving the reaction engine.
type ReactionsConfig struct {
	Level             string `json:"level,omitempty"`       // "off", "minimal", "full" (default)
	PerMinute         int    `json:"per_minute"`            // sliding 60s window maximum (default 10, 0 = disabled)
	PerHour           int    `json:"per_hour"`              // sliding 1h window maximum (default 200, 0 = disabled)
	MessageCooldownMs int    `json:"message_cooldown_ms"`   // min gap between reactions on one message (default 5000)
	UserCooldownMs    int    `json:"user_cooldown_ms"`      // min gap between reactions to one recipient (default 1000)
	SendTimeoutMs     int    `json:"send_timeout_ms"`       // transport call deadline (default 5000)
	HistoryTTL        string `json:"history_ttl,omitempty"` // Go duration (default "24h")
	CounterTTL        string `json:"counter_ttl,omitempty"` // Go duration (default "720h")

	// Catalog overrides keyed by category name, then trigger key.
	// An empty emoji removes the built-in entry.
	Catalog map[string]map[string]string `json:"catalog,omitempty"`

	// Flows adds or replaces flow definitions by key.
	Flows map[string][]FlowStageConfig `json:"flows,omitempty"`
}

// FlowStageConfig is one stage of a configured flow. DelayMs is measured
// from the previous stage.
type FlowStageConfig struct {
	Emoji   string `json:"emoji"`
	DelayMs int    `json:"delay_ms,omitempty"`
}

func defaultReactions() ReactionsConfig {
	l := reactions.DefaultLimits()
	return ReactionsConfig{
		Level:             string(reactions.LevelFull),
		PerMinute:         l.MaxPerMinute,
		PerHour:           l.MaxPerHour,
		MessageCooldownMs: int(l.MessageCooldown / time.Millisecond),
		UserCooldownMs:    int(l.UserCooldown / time.Millisecond),
		SendTimeoutMs:     5000,
		HistoryTTL:        "24h",
		CounterTTL:        "720h",
	}
}

// Limits converts the rate settings into guard limits.
func (r ReactionsConfig) Limits() reactions.Limits {
	return reactions.Limits{
		MaxPerMinute:    r.PerMinute,
		MaxPerHour:      r.PerHour,
		MessageCooldown: time.Duration(r.MessageCooldownMs) * time.Millisecond,
		UserCooldown:    time.Duration(r.UserCooldownMs) * time.Millisecond,
	}
}

// Settings converts the section into engine settings, merging catalog
// overrides over the built-in tables.
func (r ReactionsConfig) Settings() (reactions.Settings, error) {
	level, err := reactions.ParseLevel(r.Level)
	if err != nil {
		return reactions.Settings{}, err
	}
	historyTTL, err := parseDuration("history_ttl", r.HistoryTTL)
	if err != nil {
		return reactions.Settings{}, err
	}
	counterTTL, err := parseDuration("counter_ttl", r.CounterTTL)
	if err != nil {
		return reactions.Settings{}, err
	}

	catalog := reactions.DefaultCatalog()
	if len(r.Catalog) > 0 {
		overrides := make(map[reactions.Category]map[string]string, len(r.Catalog))
		for name, entries := range r.Catalog {
			cat, ok := reactions.ParseCategory(name)
			if !ok {
				return reactions.Settings{}, fmt.Errorf("catalog: unknown category %q", name)
			}
			overrides[cat] = entries
		}
		catalog = catalog.WithOverrides(overrides)
	}

	return reactions.Settings{
		Level:       level,
		Catalog:     catalog,
		HistoryTTL:  historyTTL,
		CounterTTL:  counterTTL,
		SendTimeout: time.Duration(r.SendTimeoutMs) * time.Millisecond,
	}, nil
}

// FlowTable returns the built-in flows with configured flows merged over them.
func (r ReactionsConfig) FlowTable() (map[string]reactions.Flow, error) {
	flows := reactions.DefaultFlows()
	for key, stages := range r.Flows {
		f := reactions.Flow{Key: key, Stages: make([]reactions.Stage, 0, len(stages))}
		for _, s := range stages {
			f.Stages = append(f.Stages, reactions.Stage{
				Emoji: s.Emoji,
				Delay: time.Duration(s.DelayMs) * time.Millisecond,
			})
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		flows[key] = f
	}
	return flows, nil
}

// Validate checks that the section converts cleanly.
func (r ReactionsConfig) Validate() error {
	if _, err := r.Settings(); err != nil {
		return fmt.Errorf("reactions: %w", err)
	}
	if _, err := r.FlowTable(); err != nil {
		return fmt.Errorf("reactions: %w", err)
	}
	if r.PerMinute < 0 || r.PerHour < 0 || r.MessageCooldownMs < 0 || r.UserCooldownMs < 0 {
		return fmt.Errorf("reactions: limits must not be negative")
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
