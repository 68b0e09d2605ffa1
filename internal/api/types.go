package api

import (
	"github.com/squeezewatch/squeezewatch/internal/engine"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// HealthResponse is the JSON body for GET /api/v1/health.
type HealthResponse struct {
	State string `json:"state"` // "running" | "stopped"
	engine.Status
}

// AddRequest is the JSON body for POST /api/v1/watchlist.
type AddRequest struct {
	Ticker      string   `json:"ticker"`
	TargetScore *float64 `json:"target_score"`
	PriceTarget *float64 `json:"price_target"`
}

// ItemResponse wraps a watch item returned by a mutation.
type ItemResponse struct {
	Item    watchlist.Item `json:"item"`
	Warning string         `json:"warning,omitempty"`
}

// SoundRequest is the JSON body for POST /api/v1/sound.
type SoundRequest struct {
	Enabled *bool `json:"enabled"`
}

// SoundResponse reports the applied sound setting.
type SoundResponse struct {
	Enabled  bool `json:"enabled"`
	Channels int  `json:"channels"`
}

// WarningResponse is returned by mutations without another body when the
// change applied but could not be persisted.
type WarningResponse struct {
	Warning string `json:"warning"`
}

type errorResponse struct {
	Error string `json:"error"`
}
