package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/squeezewatch/squeezewatch/internal/api"
	"github.com/squeezewatch/squeezewatch/internal/config"
	"github.com/squeezewatch/squeezewatch/internal/engine"
	"github.com/squeezewatch/squeezewatch/internal/metrics"
	"github.com/squeezewatch/squeezewatch/internal/notify"
	"github.com/squeezewatch/squeezewatch/internal/persist"
	"github.com/squeezewatch/squeezewatch/internal/scheduler"
	"github.com/squeezewatch/squeezewatch/internal/score"
	"github.com/squeezewatch/squeezewatch/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file with provider keys and webhook URLs")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("squeezewatch starting", "config", *configPath)

	// Secrets referenced by *_env fields may come from a dotenv file; real
	// environment variables take precedence.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setLevel(level, cfg.LogLevel)
	slog.Info("config loaded",
		"http_port", cfg.HTTPPort,
		"interval", cfg.Engine.Interval,
		"score_provider", cfg.Score.Type,
		"storage", cfg.Storage.Backend,
		"channels", len(cfg.Notify.Channels),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, cfg, level); err != nil {
		slog.Error("squeezewatch stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, cfg *config.Config, level *slog.LevelVar) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	provider, err := score.New(cfg.Score)
	if err != nil {
		return err
	}
	gateway := score.NewGateway(provider, cfg.Score.Timeout, cfg.Score.RatePerMinute)

	backend, err := persist.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	// Banner hub: pushes alerts to connected UIs and doubles as a channel.
	hub := ws.New(config.DefaultHubBroadcastPeriod)

	channels, err := notify.BuildChannels(cfg.Notify.Channels, hub, &http.Client{Timeout: cfg.Notify.Timeout})
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(channels, cfg.Notify.Timeout, m)
	defer dispatcher.Close() //nolint:errcheck
	slog.Info("notification channels ready", "channels", dispatcher.Channels())

	eng, err := engine.NewFromConfig(cfg, gateway, dispatcher, persist.NewAdapter(backend), m)
	if err != nil {
		return err
	}
	hub.SetSource(eng)

	// Refuse to start on unreadable state: the next save would overwrite it.
	if err := eng.Load(ctx); err != nil {
		return err
	}
	if n, err := eng.SeedWatchlist(ctx, cfg.Watchlist); err != nil {
		slog.Warn("seeded watchlist not persisted", "err", err)
	} else if n > 0 {
		slog.Info("watchlist seeded from config", "added", n)
	}

	go hub.Run(ctx)

	go func() {
		prev := cfg
		if err := config.Watch(ctx, configPath, func(updated *config.Config) {
			applyReload(ctx, eng, level, prev, updated)
			prev = updated
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(eng))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("squeezewatch shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	return nil
}

// applyReload applies the hot-reloadable parts of a new config: log level,
// operating window, sound toggle and newly seeded tickers. Everything else
// needs a restart.
func applyReload(ctx context.Context, eng *engine.Engine, level *slog.LevelVar, prev, updated *config.Config) {
	setLevel(level, updated.LogLevel)

	gate, err := scheduler.GateFromConfig(updated.MarketHours)
	if err != nil {
		slog.Error("market hours not reloaded", "err", err)
	} else {
		eng.SetGate(gate)
	}

	if was, now := soundEnabled(prev), soundEnabled(updated); was != now {
		eng.SetSound(now)
	}

	if n, err := eng.SeedWatchlist(ctx, updated.Watchlist); err != nil {
		slog.Warn("seeded watchlist not persisted", "err", err)
	} else if n > 0 {
		slog.Info("watchlist entries added on reload", "added", n)
	}
	slog.Info("config hot-reloaded", "log_level", updated.LogLevel)
}

// soundEnabled reports whether the first configured audio channel is enabled.
func soundEnabled(cfg *config.Config) bool {
	for _, ch := range cfg.Notify.Channels {
		if ch.Type == "audio" {
			return ch.IsEnabled()
		}
	}
	return false
}

func setLevel(v *slog.LevelVar, name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		l = slog.LevelInfo
	}
	v.Set(l)
}
