package alerts

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func item(ticker string, target float64) *watchlist.Item {
	return &watchlist.Item{Ticker: ticker, TargetScore: target, AddedAt: baseTime}
}

// run feeds scores to m one step apart and returns the emitted alerts.
func run(m *Machine, it *watchlist.Item, step time.Duration, scores ...float64) []Alert {
	var out []Alert
	for i, s := range scores {
		if _, a := m.Evaluate(it, s, baseTime.Add(time.Duration(i)*step)); a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0, SeverityModerate},
		{59.99, SeverityModerate},
		{60, SeverityHigh},
		{79.9, SeverityHigh},
		{80, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityFor(tc.score), "score %v", tc.score)
	}
}

func TestEvaluate_Transitions(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	tr, a := m.Evaluate(it, 40, baseTime)
	assert.Equal(t, TransitionNone, tr)
	assert.Nil(t, a)
	assert.False(t, it.Triggered)

	tr, a = m.Evaluate(it, 60, baseTime.Add(time.Minute))
	assert.Equal(t, TransitionFire, tr)
	require.NotNil(t, a)
	assert.True(t, it.Triggered)
	assert.Equal(t, "GME", a.Ticker)
	assert.Equal(t, 60.0, a.TargetScore)
	assert.NotEmpty(t, a.ID)

	tr, _ = m.Evaluate(it, 50, baseTime.Add(2*time.Minute))
	assert.Equal(t, TransitionStayFired, tr, "score exactly at target-band stays fired")

	tr, a = m.Evaluate(it, 49.9, baseTime.Add(3*time.Minute))
	assert.Equal(t, TransitionReset, tr)
	assert.Nil(t, a, "reset never emits")
	assert.False(t, it.Triggered)
}

func TestEvaluate_UpdatesLastCheckEveryTime(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("AMC", 60)

	for i, s := range []float64{10, 70, 65, 20} {
		now := baseTime.Add(time.Duration(i) * time.Minute)
		m.Evaluate(it, s, now)
		require.NotNil(t, it.LastCheckAt)
		require.NotNil(t, it.LastScore)
		assert.Equal(t, now, *it.LastCheckAt)
		assert.Equal(t, s, *it.LastScore)
	}
}

func TestHysteresis_NoFlap(t *testing.T) {
	// Hour-spaced ticks keep the cooldown out of play: only the band prevents flapping.
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	rng := rand.New(rand.NewSource(7))
	scores := []float64{65}
	for i := 0; i < 500; i++ {
		scores = append(scores, 51+rng.Float64()*18) // [51, 69]
	}
	alerts := run(m, it, time.Hour, scores...)
	require.Len(t, alerts, 1)
	assert.Equal(t, 65.0, alerts[0].Score)
	assert.True(t, it.Triggered)
}

func TestResetCorrectness(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	_, a := m.Evaluate(it, 65, baseTime)
	require.NotNil(t, a)

	tr, a := m.Evaluate(it, 45, baseTime.Add(10*time.Minute))
	assert.Equal(t, TransitionReset, tr)
	assert.Nil(t, a)

	tr, a = m.Evaluate(it, 62, baseTime.Add(61*time.Minute))
	assert.Equal(t, TransitionFire, tr)
	require.NotNil(t, a)
	assert.Equal(t, 62.0, a.Score)
}

func TestCooldown_SuppressesRefireWithinWindow(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	// Fire, reset, cross again at 28 minutes, reset, cross again at 56 minutes.
	alerts := run(m, it, 14*time.Minute, 70, 40, 75, 30, 90)
	require.Len(t, alerts, 1, "two crossings inside one hour yield one alert")
	assert.False(t, it.Triggered, "a crossing inside the cooldown leaves the item Armed")

	assert.True(t, m.CooldownActive("gme", baseTime.Add(59*time.Minute)))
	assert.False(t, m.CooldownActive("GME", baseTime.Add(time.Hour)))

	// Window boundary: exactly one hour after the alert is outside the cooldown.
	m.Evaluate(it, 10, baseTime.Add(time.Hour-time.Second))
	tr, a := m.Evaluate(it, 61, baseTime.Add(time.Hour))
	assert.Equal(t, TransitionFire, tr)
	require.NotNil(t, a)
}

func TestCooldown_IsPerTicker(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	gme, amc := item("GME", 60), item("AMC", 60)

	_, a1 := m.Evaluate(gme, 70, baseTime)
	_, a2 := m.Evaluate(amc, 70, baseTime.Add(time.Minute))
	assert.NotNil(t, a1)
	assert.NotNil(t, a2)
}

func TestScenario_GME(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	var trs []Transition
	var alerts []Alert
	for i, s := range []float64{45, 62, 70, 55, 63} {
		tr, a := m.Evaluate(it, s, baseTime.Add(time.Duration(i)*time.Hour))
		trs = append(trs, tr)
		if a != nil {
			alerts = append(alerts, *a)
		}
	}

	assert.Equal(t, []Transition{
		TransitionNone, TransitionFire, TransitionStayFired, TransitionStayFired, TransitionStayFired,
	}, trs)
	require.Len(t, alerts, 1)
	assert.Equal(t, 62.0, alerts[0].Score)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, baseTime.Add(time.Hour), alerts[0].Timestamp)
}

func TestCooldown_FiresOnceWindowElapsesWhileAboveTarget(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	it := item("GME", 60)

	steps := []struct {
		score float64
		at    time.Duration
		want  Transition
	}{
		{70, 0, TransitionFire},
		{40, 10 * time.Minute, TransitionReset},
		{70, 20 * time.Minute, TransitionSuppressed},
		{70, 61 * time.Minute, TransitionFire},
		{75, 2 * time.Hour, TransitionStayFired},
		{80, 3 * time.Hour, TransitionStayFired},
	}
	var alerts []Alert
	for _, s := range steps {
		tr, a := m.Evaluate(it, s.score, baseTime.Add(s.at))
		assert.Equal(t, s.want, tr, "at +%v", s.at)
		if a != nil {
			alerts = append(alerts, *a)
		}
	}
	require.Len(t, alerts, 2)
	assert.Equal(t, baseTime.Add(61*time.Minute), alerts[1].Timestamp)
	assert.True(t, it.Triggered)
}

func TestSeed_RestoresCooldown(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	m.Seed(nil, []Alert{
		NewAlert("GME", 70, 60, baseTime.Add(-2*time.Hour)),
		NewAlert("GME", 75, 60, baseTime.Add(-10*time.Minute)),
	})

	it := item("GME", 60)
	tr, a := m.Evaluate(it, 80, baseTime)
	assert.Equal(t, TransitionSuppressed, tr)
	assert.Nil(t, a)
	assert.False(t, it.Triggered)
}

func TestSeed_LastAlertsWithoutHistory(t *testing.T) {
	m := NewMachine(time.Hour, 10)
	m.Seed(map[string]time.Time{
		"gme": baseTime.Add(-10 * time.Minute),
		"AMC": baseTime.Add(-2 * time.Hour),
	}, nil)

	assert.True(t, m.CooldownActive("GME", baseTime))
	assert.False(t, m.CooldownActive("AMC", baseTime))

	_, a := m.Evaluate(item("AMC", 60), 70, baseTime)
	require.NotNil(t, a)

	last := m.LastAlerts()
	assert.Equal(t, baseTime.Add(-10*time.Minute), last["GME"])
	assert.Equal(t, baseTime, last["AMC"])
}

func TestNewMachine_ZeroCooldownDisables(t *testing.T) {
	m := NewMachine(0, 10)
	it := item("GME", 60)
	alerts := run(m, it, time.Second, 70, 10, 70, 10, 70)
	assert.Len(t, alerts, 3)
}

func TestAlert_Message(t *testing.T) {
	a := NewAlert("GME", 82.5, 60, baseTime)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Contains(t, a.Message(), "GME score 82.5 crossed target 60")
	assert.Contains(t, a.Title(), "GME")
}
