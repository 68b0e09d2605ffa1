// Package notify fans fired alerts out to notification channels.
//
// Delivery to each channel is independent: one attempt per alert, bounded by
// a per-channel timeout, with errors and panics contained to the channel that
// produced them. A failing channel never prevents delivery on the others and
// never affects alert history.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/metrics"
)

// DefaultTimeout bounds one delivery attempt when none is configured.
const DefaultTimeout = 10 * time.Second

// Channel delivers an alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a alerts.Alert) error
}

// Toggler is implemented by channels that can be muted at runtime.
type Toggler interface {
	SetEnabled(bool)
	Enabled() bool
}

// Result is the outcome of one channel's delivery attempt.
type Result struct {
	Channel string
	Err     error
}

// Dispatcher delivers alerts to a fixed set of channels.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. A non-positive timeout selects
// DefaultTimeout. m may be nil.
func NewDispatcher(channels []Channel, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{channels: channels, timeout: timeout, metrics: m}
}

// Channels returns the configured channel names in order.
func (d *Dispatcher) Channels() []string {
	out := make([]string, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.Name()
	}
	return out
}

// Dispatch sends a to every channel concurrently and waits for all attempts.
// Results are returned in channel order.
func (d *Dispatcher) Dispatch(ctx context.Context, a alerts.Alert) []Result {
	results := make([]Result, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			err := d.deliver(ctx, ch, a)
			results[i] = Result{Channel: ch.Name(), Err: err}
			d.metrics.Notification(ch.Name(), err)
			if err != nil {
				slog.Error("notify: delivery failed",
					"channel", ch.Name(),
					"ticker", a.Ticker,
					"alert_id", a.ID,
					"err", err,
				)
				return
			}
			slog.Debug("notify: delivered", "channel", ch.Name(), "ticker", a.Ticker)
		}(i, ch)
	}
	wg.Wait()
	return results
}

// deliver runs one attempt. The timeout holds even if the channel ignores
// its context.
func (d *Dispatcher) deliver(ctx context.Context, ch Channel, a alerts.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("channel panic: %v", r)
			}
		}()
		done <- ch.Send(ctx, a)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery aborted: %w", ctx.Err())
	}
}

// SetSound enables or mutes every channel that supports muting and returns
// how many were changed.
func (d *Dispatcher) SetSound(enabled bool) int {
	n := 0
	for _, ch := range d.channels {
		if t, ok := ch.(Toggler); ok {
			t.SetEnabled(enabled)
			n++
		}
	}
	return n
}

// SoundEnabled reports whether any mutable channel is currently enabled.
func (d *Dispatcher) SoundEnabled() bool {
	for _, ch := range d.channels {
		if t, ok := ch.(Toggler); ok && t.Enabled() {
			return true
		}
	}
	return false
}

// Close releases channels that hold connections.
func (d *Dispatcher) Close() error {
	var first error
	for _, ch := range d.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = fmt.Errorf("notify: close %s: %w", ch.Name(), err)
			}
		}
	}
	return first
}
