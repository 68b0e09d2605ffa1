// Package watchlist holds the set of monitored tickers.
//
// The Registry is the single owner of WatchItems. Tickers are unique after
// normalization (trimmed, upper-cased) and List preserves insertion order.
package watchlist

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicateTicker is returned by Add when the ticker is already watched.
	ErrDuplicateTicker = errors.New("watchlist: duplicate ticker")

	// ErrNotFound is returned by Update for tickers that are not watched.
	ErrNotFound = errors.New("watchlist: ticker not found")

	// ErrInvalidTicker is returned by Add for an empty ticker.
	ErrInvalidTicker = errors.New("watchlist: invalid ticker")

	// ErrInvalidTarget is returned by Add for a target score outside [0, 100].
	ErrInvalidTarget = errors.New("watchlist: target score out of range")
)

// Item is one watched ticker together with its last evaluation.
type Item struct {
	Ticker      string     `json:"ticker"`
	TargetScore float64    `json:"target_score"`
	PriceTarget *float64   `json:"price_target"`
	AddedAt     time.Time  `json:"added_at"`
	LastCheckAt *time.Time `json:"last_check_at"`
	LastScore   *float64   `json:"last_score"`

	// Triggered is true while the item is in the Fired state.
	Triggered bool `json:"triggered"`
}

// clone returns a deep copy so callers never share pointers with the registry.
func (it Item) clone() Item {
	out := it
	if it.PriceTarget != nil {
		v := *it.PriceTarget
		out.PriceTarget = &v
	}
	if it.LastCheckAt != nil {
		v := *it.LastCheckAt
		out.LastCheckAt = &v
	}
	if it.LastScore != nil {
		v := *it.LastScore
		out.LastScore = &v
	}
	return out
}

// Normalize returns the canonical form of a ticker symbol.
func Normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Registry is a thread-safe, insertion-ordered set of watch items keyed by ticker.
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]*Item
	now   func() time.Time // injectable for deterministic tests
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		items: make(map[string]*Item),
		now:   time.Now,
	}
}

// SetClock replaces the clock used to stamp AddedAt.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Add inserts a new Armed item and returns a copy of it. The registry is
// unchanged on error.
func (r *Registry) Add(ticker string, targetScore float64, priceTarget *float64) (Item, error) {
	key := Normalize(ticker)
	if key == "" {
		return Item{}, ErrInvalidTicker
	}
	if math.IsNaN(targetScore) || targetScore < 0 || targetScore > 100 {
		return Item{}, fmt.Errorf("%w: %v", ErrInvalidTarget, targetScore)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[key]; ok {
		return Item{}, fmt.Errorf("%w: %s", ErrDuplicateTicker, key)
	}
	it := Item{
		Ticker:      key,
		TargetScore: targetScore,
		PriceTarget: priceTarget,
		AddedAt:     r.now().UTC(),
	}
	it = it.clone()
	r.items[key] = &it
	r.order = append(r.order, key)
	return it.clone(), nil
}

// Remove deletes ticker and reports whether it was present.
// Removing an absent ticker is a no-op.
func (r *Registry) Remove(ticker string) bool {
	key := Normalize(ticker)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[key]; !ok {
		return false
	}
	delete(r.items, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the item for ticker.
func (r *Registry) Get(ticker string) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[Normalize(ticker)]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

// List returns copies of all items in insertion order.
func (r *Registry) List() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Item, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k].clone())
	}
	return out
}

// Len returns the number of watched tickers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Update applies fn to the item for ticker while holding the registry lock,
// so the change is atomic with respect to other registry operations.
// fn must not block and must not change Ticker.
func (r *Registry) Update(ticker string, fn func(*Item)) error {
	key := Normalize(ticker)

	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	fn(it)
	it.Ticker = key
	return nil
}

// Restore replaces the registry contents with items, typically from a
// persisted snapshot. Entries with an empty or repeated ticker are dropped;
// the first occurrence wins. It returns the number of entries kept.
func (r *Registry) Restore(items []Item) int {
	order := make([]string, 0, len(items))
	byKey := make(map[string]*Item, len(items))
	for _, it := range items {
		key := Normalize(it.Ticker)
		if key == "" {
			continue
		}
		if _, dup := byKey[key]; dup {
			continue
		}
		cp := it.clone()
		cp.Ticker = key
		if cp.LastCheckAt == nil {
			// Never evaluated, so it cannot be Fired.
			cp.Triggered = false
		}
		byKey[key] = &cp
		order = append(order, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = order
	r.items = byKey
	return len(order)
}
