// Package engine ties the watch registry, score gateway, alert state machine,
// history, notification dispatcher, persistence and scheduler into one
// running instance.
//
// Each admitted tick evaluates every watched ticker with bounded fan-out.
// Provider I/O happens outside the registry lock; the state transition for an
// item is applied atomically through Registry.Update. A fired alert is
// appended to history before it is dispatched. After the batch, one
// serialized save persists the watchlist and history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/config"
	"github.com/squeezewatch/squeezewatch/internal/metrics"
	"github.com/squeezewatch/squeezewatch/internal/notify"
	"github.com/squeezewatch/squeezewatch/internal/persist"
	"github.com/squeezewatch/squeezewatch/internal/scheduler"
	"github.com/squeezewatch/squeezewatch/internal/score"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// Scorer fetches a score for a ticker. *score.Gateway implements it.
type Scorer interface {
	Fetch(ctx context.Context, ticker string) (float64, error)
}

// Options configures an Engine. Scorer is required. Zero values select
// defaults, except Cooldown and Hysteresis which go to alerts.NewMachine
// unchanged: zero disables them and a negative value selects the default.
type Options struct {
	Scorer     Scorer
	Dispatcher *notify.Dispatcher
	Store      *persist.Adapter // nil disables persistence
	Metrics    *metrics.Metrics
	Clock      clockwork.Clock

	Interval       time.Duration
	MaxConcurrency int
	Cooldown       time.Duration
	Hysteresis     float64
	HistorySize    int
	DefaultTarget  float64
	Gate           scheduler.Gate
}

// Engine is one alerting engine instance. It holds no package-level state,
// so several engines can coexist in a process.
type Engine struct {
	registry   *watchlist.Registry
	history    *alerts.History
	machine    *alerts.Machine
	scorer     Scorer
	dispatcher *notify.Dispatcher
	store      *persist.Adapter
	metrics    *metrics.Metrics
	clock      clockwork.Clock
	sched      *scheduler.Scheduler

	maxConcurrency int
	defaultTarget  float64

	gateMu sync.RWMutex
	gate   scheduler.Gate

	saveMu sync.Mutex
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultInterval
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = config.DefaultMaxConcurrency
	}
	if opts.DefaultTarget <= 0 {
		opts.DefaultTarget = config.DefaultTargetScore
	}
	if opts.Gate == nil {
		opts.Gate = scheduler.Always
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = notify.NewDispatcher(nil, 0, opts.Metrics)
	}

	e := &Engine{
		registry:       watchlist.New(),
		history:        alerts.NewHistory(opts.HistorySize),
		machine:        alerts.NewMachine(opts.Cooldown, opts.Hysteresis),
		scorer:         opts.Scorer,
		dispatcher:     opts.Dispatcher,
		store:          opts.Store,
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		maxConcurrency: opts.MaxConcurrency,
		defaultTarget:  opts.DefaultTarget,
		gate:           opts.Gate,
	}
	e.registry.SetClock(opts.Clock.Now)
	e.sched = scheduler.New(opts.Interval, e.tick,
		scheduler.WithClock(opts.Clock),
		scheduler.WithGate(opts.Gate),
		scheduler.WithObserver(func(_ time.Time, admitted bool) { e.metrics.Tick(admitted) }),
	)
	return e
}

// NewFromConfig builds an Engine using the engine and market hours sections
// of cfg.
func NewFromConfig(cfg *config.Config, sc Scorer, d *notify.Dispatcher, st *persist.Adapter, m *metrics.Metrics) (*Engine, error) {
	gate, err := scheduler.GateFromConfig(cfg.MarketHours)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return New(Options{
		Scorer:         sc,
		Dispatcher:     d,
		Store:          st,
		Metrics:        m,
		Interval:       cfg.Engine.Interval,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		Cooldown:       cfg.Engine.Cooldown,
		Hysteresis:     cfg.Engine.Hysteresis,
		HistorySize:    cfg.Engine.HistorySize,
		DefaultTarget:  cfg.Engine.DefaultTargetScore,
		Gate:           gate,
	}), nil
}

// Load restores the watchlist and history from the store and seeds the
// cooldown state from the persisted last alert times and restored alerts. A failed load leaves the engine
// empty and returns the error; callers should not start the engine, since
// the next save would overwrite the unreadable documents.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		e.metrics.PersistError("load")
		return fmt.Errorf("engine: load: %w", err)
	}
	n := e.registry.Restore(snap.Items)
	e.history.Restore(snap.Alerts)
	e.machine.Seed(snap.LastAlerts, e.history.Export())
	e.metrics.WatchlistSize(n)
	slog.Info("engine: state restored", "items", n, "alerts", e.history.Len())
	return nil
}

// Start launches the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sched.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	slog.Info("engine: started", "items", e.registry.Len())
	return nil
}

// Stop halts the scheduler, waiting for an in-flight batch to finish.
func (e *Engine) Stop() {
	e.sched.Stop()
	slog.Info("engine: stopped")
}

// Running reports whether the scheduler is active.
func (e *Engine) Running() bool { return e.sched.Running() }

// SetGate replaces the operating window from the next tick.
func (e *Engine) SetGate(g scheduler.Gate) {
	if g == nil {
		g = scheduler.Always
	}
	e.gateMu.Lock()
	e.gate = g
	e.gateMu.Unlock()
	e.sched.SetGate(g)
}

// MarketOpen reports whether a tick at t would be admitted.
func (e *Engine) MarketOpen(t time.Time) bool {
	e.gateMu.RLock()
	defer e.gateMu.RUnlock()
	return e.gate(t)
}

func (e *Engine) tick(ctx context.Context, now time.Time) {
	rep := e.RunBatch(ctx, now)
	slog.Info("engine: batch complete",
		"items", rep.Items,
		"evaluated", rep.Evaluated,
		"failed", rep.Failed,
		"fired", len(rep.Fired),
		"duration", rep.Duration,
	)
}

// BatchReport summarizes one evaluation batch.
type BatchReport struct {
	At         time.Time
	Items      int
	Evaluated  int
	Failed     int // score unavailable
	Skipped    int // removed while the batch ran
	Suppressed int // at or above target inside the cooldown, still Armed
	Resets     int
	Fired      []alerts.Alert
	Duration   time.Duration
	SaveErr    error
}

type outcome struct {
	failed  bool
	skipped bool
	tr      alerts.Transition
	alert   *alerts.Alert
}

// RunBatch evaluates every watched ticker once at time now. It is what each
// admitted tick runs and may be called directly, for example by tests.
func (e *Engine) RunBatch(ctx context.Context, now time.Time) BatchReport {
	start := e.clock.Now()
	items := e.registry.List()
	rep := BatchReport{At: now, Items: len(items)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.maxConcurrency)
	for _, it := range items {
		ticker := it.Ticker
		g.Go(func() error {
			o := e.evaluate(ctx, ticker, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case o.failed:
				rep.Failed++
			case o.skipped:
				rep.Skipped++
			default:
				rep.Evaluated++
				switch o.tr {
				case alerts.TransitionSuppressed:
					rep.Suppressed++
				case alerts.TransitionReset:
					rep.Resets++
				}
				if o.alert != nil {
					rep.Fired = append(rep.Fired, *o.alert)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.SaveErr = e.save(ctx)
	rep.Duration = e.clock.Since(start)
	e.metrics.BatchDuration(rep.Duration)
	return rep
}

func (e *Engine) evaluate(ctx context.Context, ticker string, now time.Time) outcome {
	sc, err := e.scorer.Fetch(ctx, ticker)
	if err != nil {
		reason := score.ReasonProvider
		var se *score.Error
		if errors.As(err, &se) {
			reason = se.Reason
		}
		e.metrics.ScoreFetch(reason)
		slog.Warn("engine: score unavailable, item skipped", "ticker", ticker, "reason", reason, "err", err)
		return outcome{failed: true}
	}
	e.metrics.ScoreFetch("ok")

	var (
		tr    alerts.Transition
		fired *alerts.Alert
	)
	err = e.registry.Update(ticker, func(it *watchlist.Item) {
		tr, fired = e.machine.Evaluate(it, sc, now)
	})
	if errors.Is(err, watchlist.ErrNotFound) {
		slog.Debug("engine: ticker removed during batch", "ticker", ticker)
		return outcome{skipped: true}
	}

	switch tr {
	case alerts.TransitionSuppressed:
		slog.Info("engine: target reached inside cooldown, alert deferred", "ticker", ticker, "score", sc)
	case alerts.TransitionReset:
		slog.Info("engine: item re-armed", "ticker", ticker, "score", sc)
	}
	if fired != nil {
		e.emit(ctx, *fired)
	}
	return outcome{tr: tr, alert: fired}
}

// emit records a in history and then delivers it.
func (e *Engine) emit(ctx context.Context, a alerts.Alert) {
	e.history.Append(a)
	e.metrics.Alert(string(a.Severity))
	slog.Warn("engine: alert fired",
		"ticker", a.Ticker,
		"score", a.Score,
		"target", a.TargetScore,
		"severity", a.Severity,
		"alert_id", a.ID,
	)
	e.dispatcher.Dispatch(ctx, a)
}

// save persists the current watchlist, history and cooldown state. Saves are serialized and
// each one snapshots state after acquiring the lock, so a later save never
// writes older state than an earlier one.
func (e *Engine) save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := persist.Snapshot{
		Items:      e.registry.List(),
		Alerts:     e.history.Export(),
		LastAlerts: e.machine.LastAlerts(),
	}
	if err := e.store.Save(ctx, snap); err != nil {
		e.metrics.PersistError("save")
		slog.Error("engine: save failed, in-memory state kept", "err", err)
		return err
	}
	return nil
}

// --- outer surface ----------------------------------------------------------

// AddToWatchlist adds ticker. A nil target selects the default target score.
// The change is persisted immediately; a persistence error is returned
// together with the added item, which stays in memory.
func (e *Engine) AddToWatchlist(ctx context.Context, ticker string, target, priceTarget *float64) (watchlist.Item, error) {
	t := e.defaultTarget
	if target != nil {
		t = *target
	}
	it, err := e.registry.Add(ticker, t, priceTarget)
	if err != nil {
		return watchlist.Item{}, err
	}
	e.metrics.WatchlistSize(e.registry.Len())
	slog.Info("engine: ticker added", "ticker", it.Ticker, "target", it.TargetScore)
	return it, e.save(ctx)
}

// RemoveFromWatchlist removes ticker and reports whether it was watched.
// History entries for the ticker are kept.
func (e *Engine) RemoveFromWatchlist(ctx context.Context, ticker string) (bool, error) {
	if !e.registry.Remove(ticker) {
		return false, nil
	}
	e.metrics.WatchlistSize(e.registry.Len())
	slog.Info("engine: ticker removed", "ticker", watchlist.Normalize(ticker))
	return true, e.save(ctx)
}

// SeedWatchlist adds configured tickers that are not yet watched and returns
// how many were added.
func (e *Engine) SeedWatchlist(ctx context.Context, entries []config.WatchEntry) (int, error) {
	added := 0
	for _, we := range entries {
		target := we.TargetScore
		if target == 0 {
			target = e.defaultTarget
		}
		_, err := e.registry.Add(we.Ticker, target, we.PriceTarget)
		switch {
		case err == nil:
			added++
		case errors.Is(err, watchlist.ErrDuplicateTicker):
		default:
			slog.Warn("engine: invalid watchlist entry ignored", "ticker", we.Ticker, "err", err)
		}
	}
	if added == 0 {
		return 0, nil
	}
	e.metrics.WatchlistSize(e.registry.Len())
	return added, e.save(ctx)
}

// Watchlist returns the watched items in insertion order.
func (e *Engine) Watchlist() []watchlist.Item { return e.registry.List() }

// Item returns one watched item.
func (e *Engine) Item(ticker string) (watchlist.Item, bool) { return e.registry.Get(ticker) }

// Alerts returns the alert history, oldest first.
func (e *Engine) Alerts() []alerts.Alert { return e.history.Export() }

// ClearAlerts empties the history and persists the change. Cooldowns are not
// reset; the last alert time per ticker is still saved.
func (e *Engine) ClearAlerts(ctx context.Context) error {
	e.history.Clear()
	slog.Info("engine: alert history cleared")
	return e.save(ctx)
}

// ExportCSV writes the history as CSV.
func (e *Engine) ExportCSV(w io.Writer) error {
	return alerts.WriteCSV(w, e.history.Export())
}

// SetSound enables or mutes audible channels.
func (e *Engine) SetSound(enabled bool) int {
	n := e.dispatcher.SetSound(enabled)
	slog.Info("engine: sound toggled", "enabled", enabled, "channels", n)
	return n
}

// Status is a point-in-time summary of the engine.
type Status struct {
	Running         bool      `json:"running"`
	MarketOpen      bool      `json:"market_open"`
	LastTick        time.Time `json:"last_tick"`
	WatchlistSize   int       `json:"watchlist_size"`
	HistorySize     int       `json:"history_size"`
	HistoryCapacity int       `json:"history_capacity"`
	SoundEnabled    bool      `json:"sound_enabled"`
	Channels        []string  `json:"channels"`
}

// Status returns the current engine summary.
func (e *Engine) Status() Status {
	return Status{
		Running:         e.sched.Running(),
		MarketOpen:      e.MarketOpen(e.clock.Now()),
		LastTick:        e.sched.LastTick(),
		WatchlistSize:   e.registry.Len(),
		HistorySize:     e.history.Len(),
		HistoryCapacity: e.history.Capacity(),
		SoundEnabled:    e.dispatcher.SoundEnabled(),
		Channels:        e.dispatcher.Channels(),
	}
}
