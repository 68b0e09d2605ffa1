// Package score adapts external score providers behind a uniform,
// failure-tolerant Fetch call.
//
// Every failure mode of a provider (error, timeout, panic, out-of-range
// value) surfaces as a *Error; callers treat it as "no data this tick".
package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a provider call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Provider supplies a risk score in [0, 100] for a ticker.
type Provider interface {
	GetScore(ctx context.Context, ticker string) (float64, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, ticker string) (float64, error)

// GetScore calls f.
func (f ProviderFunc) GetScore(ctx context.Context, ticker string) (float64, error) {
	return f(ctx, ticker)
}

// Error is returned by Gateway.Fetch for every failed fetch.
type Error struct {
	Ticker string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("score %s: %s: %v", e.Ticker, e.Reason, e.Err)
	}
	return fmt.Sprintf("score %s: %s", e.Ticker, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Failure reasons reported in Error.Reason.
const (
	ReasonTimeout     = "timeout"
	ReasonProvider    = "provider error"
	ReasonOutOfRange  = "score out of range"
	ReasonPanic       = "provider panic"
	ReasonRateLimited = "rate limiter"
	ReasonCancelled   = "cancelled"
)

// Gateway wraps a Provider with a finite per-call timeout and a shared rate
// limiter.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
}

// NewGateway creates a Gateway. A non-positive timeout selects DefaultTimeout.
// ratePerMinute caps calls across all tickers; zero disables the limit. The
// burst is 10% of the per-minute rate, at least 1.
func NewGateway(p Provider, timeout time.Duration, ratePerMinute int) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{provider: p, timeout: timeout}
	if ratePerMinute > 0 {
		burst := ratePerMinute / 10
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), burst)
	}
	return g
}

// Timeout returns the per-call timeout.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

type result struct {
	score float64
	err   error
}

// Fetch returns the score for ticker. It never panics and never blocks longer
// than the rate limiter wait plus the timeout, even if the provider ignores
// its context. Any failure is returned as *Error.
func (g *Gateway) Fetch(ctx context.Context, ticker string) (float64, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, &Error{Ticker: ticker, Reason: ReasonRateLimited, Err: err}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Buffered so an abandoned provider call can still complete and exit.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &Error{Ticker: ticker, Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}}
			}
		}()
		s, err := g.provider.GetScore(callCtx, ticker)
		done <- result{score: s, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return 0, &Error{Ticker: ticker, Reason: ReasonCancelled, Err: ctx.Err()}
		}
		return 0, &Error{Ticker: ticker, Reason: ReasonTimeout, Err: callCtx.Err()}

	case r := <-done:
		if r.err != nil {
			var se *Error
			if errors.As(r.err, &se) {
				return 0, se
			}
			if ctx.Err() != nil {
				return 0, &Error{Ticker: ticker, Reason: ReasonCancelled, Err: r.err}
			}
			if errors.Is(r.err, context.DeadlineExceeded) || callCtx.Err() != nil {
				return 0, &Error{Ticker: ticker, Reason: ReasonTimeout, Err: r.err}
			}
			return 0, &Error{Ticker: ticker, Reason: ReasonProvider, Err: r.err}
		}
		if math.IsNaN(r.score) || r.score < 0 || r.score > 100 {
			return 0, &Error{Ticker: ticker, Reason: ReasonOutOfRange, Err: fmt.Errorf("got %v", r.score)}
		}
		return r.score, nil
	}
}
