package score

import (
	"context"
	"fmt"
	"sync"

	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// Static serves fixed scores from memory. Scores can be changed at runtime,
// which makes it useful for dry runs and demos.
type Static struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewStatic creates a Static provider seeded with scores.
func NewStatic(scores map[string]float64) *Static {
	s := &Static{scores: make(map[string]float64, len(scores))}
	for k, v := range scores {
		s.scores[watchlist.Normalize(k)] = v
	}
	return s
}

// Set replaces the score for ticker.
func (s *Static) Set(ticker string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[watchlist.Normalize(ticker)] = score
}

// GetScore returns the configured score or an error for unknown tickers.
func (s *Static) GetScore(_ context.Context, ticker string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scores[watchlist.Normalize(ticker)]
	if !ok {
		return 0, fmt.Errorf("no static score for %s", ticker)
	}
	return v, nil
}
