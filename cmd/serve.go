package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/reactd/internal/bus"
	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/internal/gateway"
	"github.com/nextlevelbuilder/reactd/internal/gateway/methods"
	httpapi "github.com/nextlevelbuilder/reactd/internal/http"
	reactmcp "github.com/nextlevelbuilder/reactd/internal/mcp"
	"github.com/nextlevelbuilder/reactd/internal/metrics"
	"github.com/nextlevelbuilder/reactd/internal/reactions"
	"github.com/nextlevelbuilder/reactd/internal/store"
	"github.com/nextlevelbuilder/reactd/internal/tracing"
	"github.com/nextlevelbuilder/reactd/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reaction gateway (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfgPath, cfg); err != nil {
		slog.Error("reactd stopped", "error", err)
		os.Exit(1)
	}
}

// serve runs every component until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfgPath string, cfg *config.Config) error {
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRate:     cfg.Telemetry.SampleRate,
		Headers:        cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	channelMgr, err := buildChannels(cfg.Channels)
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	settings, err := cfg.Reactions.Settings()
	if err != nil {
		return err
	}
	flows, err := cfg.Reactions.FlowTable()
	if err != nil {
		return err
	}

	msgBus := bus.New()
	var sink reactions.MetricsSink = metrics.Noop{}
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus(metrics.Config{Namespace: cfg.Metrics.Namespace, Path: cfg.Metrics.Path})
		sink = prom
	}

	engine := reactions.New(channelMgr, st, sink, reactions.Options{
		Limits:      cfg.Reactions.Limits(),
		Level:       settings.Level,
		Catalog:     settings.Catalog,
		Flows:       flows,
		HistoryTTL:  settings.HistoryTTL,
		CounterTTL:  settings.CounterTTL,
		SendTimeout: settings.SendTimeout,
		Tracer:      tp.Tracer(),
		OnEvent: func(ev reactions.ReactionEvent) {
			msgBus.Broadcast(bus.Event{Name: protocol.EventReaction, Payload: ev})
		},
	})
	defer engine.Close()

	server := gateway.NewServer(cfg.Gateway, msgBus)
	if prom != nil {
		prom.GaugeFunc("active_flows", "Flow instances currently running", func() float64 {
			return float64(engine.Status().ActiveFlows)
		})
		prom.GaugeFunc("gateway_clients", "Connected gateway clients", func() float64 {
			return float64(server.ClientCount())
		})
		server.SetMetrics(prom.Path(), prom.Handler(), prom)
	}

	api := httpapi.NewReactionsHandler(engine, st, cfg.Gateway.Token)
	if server.RateLimiter().Enabled() {
		api.SetRateLimiter(server.RateLimiter().Allow)
	}
	server.AddAPIHandler(api)
	server.AddAPIHandler(reactmcp.NewServer(engine, st, Version, cfg.Gateway.Token))
	methods.NewReactionsMethods(engine, st).Register(server.Router())
	methods.NewChannelsMethods(channelMgr).Register(server.Router())

	if err := channelMgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = channelMgr.StopAll(stopCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	watcher := config.NewWatcher(cfgPath, cfg, func(next *config.Config) {
		applyReload(engine, cfg, next)
	})
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			// Hot reload is optional; the gateway keeps serving.
			slog.Warn("config watcher stopped", "error", err)
		}
		return nil
	})

	if purger, ok := st.(store.Purger); ok {
		sweeper, err := store.NewSweeper(purger, cfg.Store.CleanupSchedule)
		if err != nil {
			return err
		}
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	slog.Info("reactd starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"store", cfg.Store.Backend,
		"level", settings.Level,
		"channels", channelMgr.GetEnabledChannels(),
		"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}

// applyReload pushes the reloadable reactions section of next into the
// running engine. Other sections need a restart.
func applyReload(engine *reactions.Engine, current, next *config.Config) {
	settings, err := next.Reactions.Settings()
	if err != nil {
		slog.Warn("config reload rejected", "error", err)
		return
	}
	flows, err := next.Reactions.FlowTable()
	if err != nil {
		slog.Warn("config reload rejected", "error", err)
		return
	}
	engine.Apply(settings, next.Reactions.Limits(), flows)
	current.ReplaceFrom(next)
	slog.Info("reactions config reloaded", "level", settings.Level, "flows", len(flows))
}
