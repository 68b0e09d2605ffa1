package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

type squeezeProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type squeezeRequest struct {
	Tickers  []string `json:"tickers"`
	OrtexKey string   `json:"ortex_key,omitempty"`
}

type squeezeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Results []struct {
		Ticker       string   `json:"ticker"`
		SqueezeScore *float64 `json:"squeeze_score"`
	} `json:"results"`
}

// GetScore asks the squeeze scanner to scan a single ticker and returns its
// squeeze_score.
func (p *squeezeProvider) GetScore(ctx context.Context, ticker string) (float64, error) {
	body, err := json.Marshal(squeezeRequest{Tickers: []string{ticker}, OrtexKey: p.apiKey})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	var out squeezeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return 0, fmt.Errorf("scanner returned HTTP %d: %s", resp.StatusCode, msg)
	}

	for _, r := range out.Results {
		if strings.EqualFold(r.Ticker, ticker) && r.SqueezeScore != nil {
			return *r.SqueezeScore, nil
		}
	}
	return 0, fmt.Errorf("no score for %s in scan results", ticker)
}
