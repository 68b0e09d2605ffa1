package alerts

import (
	"sync"
	"time"

	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

const (
	defaultCooldown   = time.Hour
	defaultHysteresis = 10.0
)

// Transition is the outcome of one evaluation.
type Transition int

const (
	// TransitionNone: Armed and below target.
	TransitionNone Transition = iota
	// TransitionFire: Armed -> Fired with a new alert.
	TransitionFire
	// TransitionSuppressed: Armed and at or above target inside the cooldown.
	// The item stays Armed, so the first evaluation after the cooldown fires.
	TransitionSuppressed
	// TransitionStayFired: Fired and still within the hysteresis band.
	TransitionStayFired
	// TransitionReset: Fired -> Armed after falling below target - band.
	TransitionReset
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionFire:
		return "fire"
	case TransitionSuppressed:
		return "suppressed"
	case TransitionStayFired:
		return "stay_fired"
	case TransitionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Machine evaluates scores against watch items and tracks the per-ticker
// cooldown. Item state itself lives on the item (Triggered); the machine only
// remembers when each ticker last produced an alert.
//
// Machine is safe for concurrent use; callers serialize access to a single
// item (the registry's Update does this).
type Machine struct {
	cooldown time.Duration
	band     float64

	mu       sync.Mutex
	lastFire map[string]time.Time
}

// NewMachine creates a Machine. A negative cooldown or band selects the
// default (1h, 10 points); zero disables that mechanism.
func NewMachine(cooldown time.Duration, band float64) *Machine {
	if cooldown < 0 {
		cooldown = defaultCooldown
	}
	if band < 0 {
		band = defaultHysteresis
	}
	return &Machine{
		cooldown: cooldown,
		band:     band,
		lastFire: make(map[string]time.Time),
	}
}

// Evaluate applies score to item at time now and returns the transition.
// The returned alert is non-nil only for TransitionFire. LastCheckAt and
// LastScore are updated on every call.
func (m *Machine) Evaluate(item *watchlist.Item, score float64, now time.Time) (Transition, *Alert) {
	now = now.UTC()
	item.LastCheckAt = &now
	s := score
	item.LastScore = &s

	if item.Triggered {
		if score < item.TargetScore-m.band {
			item.Triggered = false
			return TransitionReset, nil
		}
		return TransitionStayFired, nil
	}

	if score < item.TargetScore {
		return TransitionNone, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(item.Ticker, now) {
		return TransitionSuppressed, nil
	}
	item.Triggered = true
	a := NewAlert(item.Ticker, score, item.TargetScore, now)
	m.lastFire[item.Ticker] = a.Timestamp
	return TransitionFire, &a
}

func (m *Machine) activeLocked(ticker string, now time.Time) bool {
	last, ok := m.lastFire[ticker]
	return ok && m.cooldown > 0 && now.Sub(last) < m.cooldown
}

// CooldownActive reports whether ticker is inside its cooldown at now.
func (m *Machine) CooldownActive(ticker string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(watchlist.Normalize(ticker), now)
}

// LastAlerts returns the time of the most recent alert per ticker. It is
// persisted so the cooldown outlives the history that produced it.
func (m *Machine) LastAlerts() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.lastFire))
	for k, v := range m.lastFire {
		out[k] = v
	}
	return out
}

// Seed restores cooldown state after a restart from persisted last-alert
// times and from the retained history. The latest time per ticker wins, so
// a restart does not re-alert a ticker inside its cooldown.
func (m *Machine) Seed(last map[string]time.Time, history []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ticker, at := range last {
		m.observeLocked(watchlist.Normalize(ticker), at.UTC())
	}
	for _, a := range history {
		m.observeLocked(watchlist.Normalize(a.Ticker), a.Timestamp.UTC())
	}
}

func (m *Machine) observeLocked(key string, at time.Time) {
	if key == "" {
		return
	}
	if at.After(m.lastFire[key]) {
		m.lastFire[key] = at
	}
}
