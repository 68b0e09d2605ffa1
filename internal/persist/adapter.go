package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// Document keys.
const (
	KeyWatchlist = "watchlist"
	KeyAlerts    = "alerts"
)

// SchemaVersion is written into every document. Loading a document with a
// different version fails instead of guessing at its layout.
const SchemaVersion = 1

// Error reports a failed persistence operation.
type Error struct {
	Op  string // "save" or "load"
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Snapshot is the durable engine state.
type Snapshot struct {
	Items  []watchlist.Item
	Alerts []alerts.Alert
	// LastAlerts holds the most recent alert time per ticker. It backs the
	// cooldown independently of the bounded, clearable history.
	LastAlerts map[string]time.Time
}

type watchlistDoc struct {
	Version int              `json:"version"`
	Items   []watchlist.Item `json:"items"`
}

type alertsDoc struct {
	Version    int                  `json:"version"`
	Alerts     []alerts.Alert       `json:"alerts"`
	LastAlerts map[string]time.Time `json:"last_alerts,omitempty"`
}

// Adapter reads and writes engine state through a Backend.
type Adapter struct {
	backend Backend
}

// NewAdapter creates an Adapter over b.
func NewAdapter(b Backend) *Adapter {
	return &Adapter{backend: b}
}

// Backend returns the underlying backend.
func (a *Adapter) Backend() Backend { return a.backend }

// Save writes both documents. Both writes are attempted even if the first
// fails; the first error is returned.
func (a *Adapter) Save(ctx context.Context, s Snapshot) error {
	werr := a.SaveWatchlist(ctx, s.Items)
	aerr := a.SaveHistory(ctx, s.Alerts, s.LastAlerts)
	if werr != nil {
		return werr
	}
	return aerr
}

// Load reads both documents. Missing documents yield empty slices.
func (a *Adapter) Load(ctx context.Context) (Snapshot, error) {
	items, err := a.LoadWatchlist(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	hist, last, err := a.LoadHistory(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Items: items, Alerts: hist, LastAlerts: last}, nil
}

// SaveWatchlist writes the watchlist document.
func (a *Adapter) SaveWatchlist(ctx context.Context, items []watchlist.Item) error {
	if items == nil {
		items = []watchlist.Item{}
	}
	return a.put(ctx, KeyWatchlist, watchlistDoc{Version: SchemaVersion, Items: items})
}

// LoadWatchlist reads the watchlist document.
func (a *Adapter) LoadWatchlist(ctx context.Context) ([]watchlist.Item, error) {
	var doc watchlistDoc
	found, err := a.get(ctx, KeyWatchlist, &doc)
	if err != nil || !found {
		return nil, err
	}
	if doc.Version != SchemaVersion {
		return nil, &Error{Op: "load", Key: KeyWatchlist, Err: fmt.Errorf("unsupported version %d", doc.Version)}
	}
	return doc.Items, nil
}

// SaveHistory writes the alert history document together with the last
// alert time per ticker.
func (a *Adapter) SaveHistory(ctx context.Context, hist []alerts.Alert, last map[string]time.Time) error {
	if hist == nil {
		hist = []alerts.Alert{}
	}
	return a.put(ctx, KeyAlerts, alertsDoc{Version: SchemaVersion, Alerts: hist, LastAlerts: last})
}

// LoadHistory reads the alert history document. Documents written without
// last alert times load with a nil map.
func (a *Adapter) LoadHistory(ctx context.Context) ([]alerts.Alert, map[string]time.Time, error) {
	var doc alertsDoc
	found, err := a.get(ctx, KeyAlerts, &doc)
	if err != nil || !found {
		return nil, nil, err
	}
	if doc.Version != SchemaVersion {
		return nil, nil, &Error{Op: "load", Key: KeyAlerts, Err: fmt.Errorf("unsupported version %d", doc.Version)}
	}
	return doc.Alerts, doc.LastAlerts, nil
}

func (a *Adapter) put(ctx context.Context, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	if err := a.backend.Put(ctx, key, data); err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	return nil
}

func (a *Adapter) get(ctx context.Context, key string, doc any) (bool, error) {
	data, err := a.backend.Get(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "load", Key: key, Err: err}
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return false, &Error{Op: "load", Key: key, Err: err}
	}
	return true, nil
}
