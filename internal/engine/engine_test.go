package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/config"
	"github.com/squeezewatch/squeezewatch/internal/metrics"
	"github.com/squeezewatch/squeezewatch/internal/notify"
	"github.com/squeezewatch/squeezewatch/internal/persist"
	"github.com/squeezewatch/squeezewatch/internal/score"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

var t0 = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

type recChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []alerts.Alert
}

func (c *recChannel) Name() string { return c.name }

func (c *recChannel) Send(_ context.Context, a alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, a)
	return c.err
}

func (c *recChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	eng     *Engine
	scores  *score.Static
	backend *persist.Memory
	channel *recChannel
}

func newFixture(t *testing.T, mod func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		scores:  score.NewStatic(nil),
		backend: persist.NewMemory(),
		channel: &recChannel{name: "rec"},
	}
	opts := Options{
		Scorer:         score.NewGateway(f.scores, time.Second, 0),
		Dispatcher:     notify.NewDispatcher([]notify.Channel{f.channel}, time.Second, nil),
		Store:          persist.NewAdapter(f.backend),
		Metrics:        metrics.New(prometheus.NewRegistry()),
		Clock:          clockwork.NewFakeClockAt(t0),
		Cooldown:       time.Hour,
		Hysteresis:     10,
		MaxConcurrency: 4,
	}
	if mod != nil {
		mod(&opts)
	}
	f.eng = New(opts)
	return f
}

func (f *fixture) add(t *testing.T, ticker string, target float64) {
	t.Helper()
	_, err := f.eng.AddToWatchlist(context.Background(), ticker, &target, nil)
	require.NoError(t, err)
}

// --- scenarios --------------------------------------------------------------

func TestScenario_GME(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)

	var fired []alerts.Alert
	for i, s := range []float64{45, 62, 70, 55, 63} {
		f.scores.Set("GME", s)
		rep := f.eng.RunBatch(context.Background(), t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, rep.SaveErr)
		fired = append(fired, rep.Fired...)
		if i == 1 {
			require.Len(t, rep.Fired, 1, "tick 2 fires")
		}
	}

	require.Len(t, fired, 1)
	assert.Equal(t, 62.0, fired[0].Score)
	assert.Equal(t, alerts.SeverityHigh, fired[0].Severity)
	assert.Equal(t, t0.Add(time.Hour), fired[0].Timestamp)
	assert.Len(t, f.eng.Alerts(), 1)
	assert.Equal(t, 1, f.channel.count())

	it, ok := f.eng.Item("gme")
	require.True(t, ok)
	assert.True(t, it.Triggered)
	assert.Equal(t, 63.0, *it.LastScore)
}

func TestScenario_OneFailingChannel(t *testing.T) {
	banner := &recChannel{name: "banner"}
	audio := &recChannel{name: "audio"}
	broken := &recChannel{name: "slack", err: errors.New("503 service unavailable")}
	f := newFixture(t, func(o *Options) {
		o.Dispatcher = notify.NewDispatcher([]notify.Channel{banner, audio, broken}, time.Second, nil)
	})
	f.add(t, "GME", 60)
	f.scores.Set("GME", 85)

	rep := f.eng.RunBatch(context.Background(), t0)
	require.Len(t, rep.Fired, 1)
	assert.Equal(t, alerts.SeverityCritical, rep.Fired[0].Severity)
	assert.Equal(t, 1, banner.count())
	assert.Equal(t, 1, audio.count())
	assert.Equal(t, 1, broken.count())
	assert.Equal(t, rep.Fired, f.eng.Alerts(), "history keeps the alert despite the failed channel")
}

// --- batch behaviour --------------------------------------------------------

func TestRunBatch_ScoreErrorSkipsItem(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)
	f.add(t, "AMC", 60)
	f.scores.Set("GME", 61) // AMC has no score

	rep := f.eng.RunBatch(context.Background(), t0)
	assert.Equal(t, 2, rep.Items)
	assert.Equal(t, 1, rep.Evaluated)
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, rep.Fired, 1)

	amc, _ := f.eng.Item("AMC")
	assert.Nil(t, amc.LastCheckAt, "failed fetch leaves the item untouched")
	assert.False(t, amc.Triggered)
}

func TestRunBatch_BoundedFanOut(t *testing.T) {
	var inFlight, peak atomic.Int32
	provider := score.ProviderFunc(func(context.Context, string) (float64, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return 10, nil
	})
	f := newFixture(t, func(o *Options) {
		o.Scorer = score.NewGateway(provider, time.Second, 0)
		o.MaxConcurrency = 2
	})
	for i := 0; i < 10; i++ {
		f.add(t, fmt.Sprintf("T%d", i), 60)
	}

	rep := f.eng.RunBatch(context.Background(), t0)
	assert.Equal(t, 10, rep.Evaluated)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunBatch_RemovedMidBatchIsSkipped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := score.ProviderFunc(func(context.Context, string) (float64, error) {
		close(entered)
		<-release
		return 99, nil
	})
	f := newFixture(t, func(o *Options) { o.Scorer = score.NewGateway(provider, 5*time.Second, 0) })
	f.add(t, "GME", 60)

	done := make(chan BatchReport)
	go func() { done <- f.eng.RunBatch(context.Background(), t0) }()
	<-entered

	// Registry operations must not wait for the provider.
	removed, err := f.eng.RemoveFromWatchlist(context.Background(), "GME")
	require.NoError(t, err)
	require.True(t, removed)
	f.add(t, "AMC", 60)

	close(release)
	rep := <-done
	assert.Equal(t, 1, rep.Skipped)
	assert.Empty(t, rep.Fired)
	assert.Empty(t, f.eng.Alerts())
	_, ok := f.eng.Item("GME")
	assert.False(t, ok, "an in-flight evaluation must not resurrect a removed ticker")
}

func TestRunBatch_HysteresisResetAndCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)

	// Fire, drop below target-10 to re-arm, cross again inside the hour.
	steps := []struct {
		score float64
		at    time.Duration
	}{{65, 0}, {45, 10 * time.Minute}, {66, 20 * time.Minute}, {45, 30 * time.Minute}, {70, 61 * time.Minute}}

	var reports []BatchReport
	for _, s := range steps {
		f.scores.Set("GME", s.score)
		reports = append(reports, f.eng.RunBatch(context.Background(), t0.Add(s.at)))
	}
	assert.Len(t, reports[0].Fired, 1)
	assert.Equal(t, 1, reports[1].Resets)
	assert.Equal(t, 1, reports[2].Suppressed)
	assert.Empty(t, reports[2].Fired)
	assert.Zero(t, reports[3].Resets, "deferred crossing left the item Armed")
	assert.Len(t, reports[4].Fired, 1, "cooldown elapsed after an hour")
	assert.Len(t, f.eng.Alerts(), 2)
}

// --- persistence ------------------------------------------------------------

func TestSaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)
	f.add(t, "AMC", 55)
	f.scores.Set("GME", 72)
	f.scores.Set("AMC", 20)
	f.eng.RunBatch(context.Background(), t0)

	// A second instance over the same store sees the same state.
	g := newFixture(t, func(o *Options) {
		o.Store = persist.NewAdapter(f.backend)
		o.Scorer = score.NewGateway(f.scores, time.Second, 0)
	})
	require.NoError(t, g.eng.Load(context.Background()))
	assert.Equal(t, f.eng.Watchlist(), g.eng.Watchlist())
	assert.Equal(t, f.eng.Alerts(), g.eng.Alerts())

	// Cooldown survives the restart: re-arm and re-cross within the hour.
	f.scores.Set("GME", 40)
	g.eng.RunBatch(context.Background(), t0.Add(5*time.Minute))
	f.scores.Set("GME", 75)
	rep := g.eng.RunBatch(context.Background(), t0.Add(10*time.Minute))
	assert.Empty(t, rep.Fired)
	assert.Equal(t, 1, rep.Suppressed)
	gme, _ := g.eng.Item("GME")
	assert.False(t, gme.Triggered)

	rep = g.eng.RunBatch(context.Background(), t0.Add(61*time.Minute))
	assert.Len(t, rep.Fired, 1, "still above target once the cooldown ends")
}

func TestCooldownSurvivesClearAndRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.add(t, "GME", 60)
	f.scores.Set("GME", 72)
	require.Len(t, f.eng.RunBatch(ctx, t0).Fired, 1)

	require.NoError(t, f.eng.ClearAlerts(ctx))
	f.scores.Set("GME", 40)
	require.Equal(t, 1, f.eng.RunBatch(ctx, t0.Add(5*time.Minute)).Resets)

	g := newFixture(t, func(o *Options) {
		o.Store = persist.NewAdapter(f.backend)
		o.Scorer = score.NewGateway(f.scores, time.Second, 0)
	})
	require.NoError(t, g.eng.Load(ctx))
	assert.Empty(t, g.eng.Alerts())

	f.scores.Set("GME", 75)
	rep := g.eng.RunBatch(ctx, t0.Add(10*time.Minute))
	assert.Empty(t, rep.Fired, "cooldown outlives a cleared history")
	assert.Equal(t, 1, rep.Suppressed)
	assert.Zero(t, g.channel.count())

	rep = g.eng.RunBatch(ctx, t0.Add(time.Hour))
	assert.Len(t, rep.Fired, 1)
}

func TestLoad_EmptyStore(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background()))
	assert.Empty(t, f.eng.Watchlist())
	assert.Empty(t, f.eng.Alerts())
}

func TestLoad_CorruptDocument(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.backend.Put(context.Background(), persist.KeyWatchlist, []byte("garbage")))
	err := f.eng.Load(context.Background())
	var pe *persist.Error
	assert.True(t, errors.As(err, &pe))
}

func TestAdd_SaveFailureKeepsState(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.FailPuts(errors.New("read-only filesystem"))

	it, err := f.eng.AddToWatchlist(context.Background(), "gme", nil, nil)
	var pe *persist.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "GME", it.Ticker)
	assert.Equal(t, config.DefaultTargetScore, it.TargetScore)
	_, ok := f.eng.Item("GME")
	assert.True(t, ok, "no rollback on save failure")

	f.scores.Set("GME", 90)
	rep := f.eng.RunBatch(context.Background(), t0)
	assert.Error(t, rep.SaveErr)
	assert.Len(t, rep.Fired, 1, "evaluation continues while the store is down")
}

// removingBackend removes a ticker from the registry while a save is in
// flight, then fails the write.
type removingBackend struct {
	*persist.Memory
	eng    *Engine
	ticker string
}

func (b *removingBackend) Put(context.Context, string, []byte) error {
	b.eng.registry.Remove(b.ticker)
	return errors.New("disk full")
}

func TestAdd_ReturnsItemDespiteConcurrentRemove(t *testing.T) {
	rb := &removingBackend{Memory: persist.NewMemory(), ticker: "GME"}
	f := newFixture(t, func(o *Options) { o.Store = persist.NewAdapter(rb) })
	rb.eng = f.eng

	it, err := f.eng.AddToWatchlist(context.Background(), "gme", nil, nil)
	var pe *persist.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "GME", it.Ticker)
	assert.Equal(t, config.DefaultTargetScore, it.TargetScore)
	assert.Equal(t, t0, it.AddedAt)
	_, ok := f.eng.Item("GME")
	assert.False(t, ok)
}

func TestAdd_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)
	_, err := f.eng.AddToWatchlist(context.Background(), " gme ", nil, nil)
	assert.ErrorIs(t, err, watchlist.ErrDuplicateTicker)
	assert.Len(t, f.eng.Watchlist(), 1)
}

func TestSeedWatchlist(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 70)

	n, err := f.eng.SeedWatchlist(context.Background(), []config.WatchEntry{
		{Ticker: "GME", TargetScore: 50},
		{Ticker: "AMC"},
		{Ticker: "", TargetScore: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gme, _ := f.eng.Item("GME")
	assert.Equal(t, 70.0, gme.TargetScore, "existing entries untouched")
	amc, _ := f.eng.Item("AMC")
	assert.Equal(t, config.DefaultTargetScore, amc.TargetScore)
}

// --- export -----------------------------------------------------------------

func TestExportAndClear(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "GME", 60)
	f.scores.Set("GME", 81.5)
	f.eng.RunBatch(context.Background(), t0)

	var buf bytes.Buffer
	require.NoError(t, f.eng.ExportCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Ticker,Score,Target Score,Severity,Timestamp", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "GME,81.5,60,critical,"))

	require.NoError(t, f.eng.ClearAlerts(context.Background()))
	assert.Empty(t, f.eng.Alerts())
	hist, last, err := persist.NewAdapter(f.backend).LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Contains(t, last, "GME", "clearing history keeps the cooldown")
}

// --- lifecycle --------------------------------------------------------------

func TestStartStop_TicksThroughScheduler(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	calls := make(chan string, 8)
	provider := score.ProviderFunc(func(_ context.Context, ticker string) (float64, error) {
		calls <- ticker
		return 30, nil
	})
	f := newFixture(t, func(o *Options) {
		o.Clock = fc
		o.Scorer = score.NewGateway(provider, time.Second, 0)
	})
	f.add(t, "GME", 60)

	require.NoError(t, f.eng.Start(context.Background()))
	assert.Error(t, f.eng.Start(context.Background()))

	fc.BlockUntil(1)
	fc.Advance(time.Minute)
	select {
	case got := <-calls:
		assert.Equal(t, "GME", got)
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not evaluate the watchlist")
	}

	f.eng.Stop()
	assert.False(t, f.eng.Running())
	assert.Equal(t, t0.Add(time.Minute), f.eng.Status().LastTick)
}

func TestClosedGateSkipsEvaluation(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	var calls atomic.Int32
	provider := score.ProviderFunc(func(context.Context, string) (float64, error) {
		calls.Add(1)
		return 99, nil
	})
	f := newFixture(t, func(o *Options) {
		o.Clock = fc
		o.Scorer = score.NewGateway(provider, time.Second, 0)
		o.Gate = func(time.Time) bool { return false }
	})
	f.add(t, "GME", 60)
	keysBefore := len(f.backend.Keys())

	require.NoError(t, f.eng.Start(context.Background()))
	for i := 0; i < 3; i++ {
		fc.BlockUntil(1)
		fc.Advance(time.Minute)
	}
	fc.BlockUntil(1)
	f.eng.Stop()

	assert.Zero(t, calls.Load())
	assert.Empty(t, f.eng.Alerts())
	assert.Equal(t, keysBefore, len(f.backend.Keys()))
	assert.False(t, f.eng.MarketOpen(t0))
}

func TestStatus(t *testing.T) {
	audio := notify.NewAudio("audio", "true", "sounds", true)
	f := newFixture(t, func(o *Options) {
		o.Dispatcher = notify.NewDispatcher([]notify.Channel{audio, notify.NewLog("log")}, time.Second, nil)
		o.HistorySize = 5
	})
	f.add(t, "GME", 60)

	st := f.eng.Status()
	assert.False(t, st.Running)
	assert.True(t, st.MarketOpen)
	assert.Equal(t, 1, st.WatchlistSize)
	assert.Equal(t, 5, st.HistoryCapacity)
	assert.True(t, st.SoundEnabled)
	assert.Equal(t, []string{"audio", "log"}, st.Channels)

	assert.Equal(t, 1, f.eng.SetSound(false))
	assert.False(t, f.eng.Status().SoundEnabled)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Defaults()
	e, err := NewFromConfig(cfg, score.NewGateway(score.NewStatic(nil), time.Second, 0), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.HistorySize, e.Status().HistoryCapacity)

	cfg.MarketHours.Days = []string{"someday"}
	_, err = NewFromConfig(cfg, nil, nil, nil, nil)
	assert.Error(t, err)
}
