package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
)

// runFunc executes an external command; tests replace it.
type runFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%s: %w: %s", name, err, trimOutput(out))
	}
	return err
}

// trimOutput trims command output for error messages.
func trimOutput(out []byte) string {
	const limit = 200
	if len(out) > limit {
		out = out[:limit]
	}
	return string(out)
}

// Audio plays <dir>/<severity>.wav through an external player. It can be
// muted at runtime; a muted channel reports success without playing.
type Audio struct {
	name    string
	player  string
	dir     string
	enabled atomic.Bool
	run     runFunc
}

// NewAudio creates an audio channel.
func NewAudio(name, player, dir string, enabled bool) *Audio {
	a := &Audio{name: name, player: player, dir: dir, run: runCommand}
	a.enabled.Store(enabled)
	return a
}

// Name implements Channel.
func (a *Audio) Name() string { return a.name }

// SetEnabled implements Toggler.
func (a *Audio) SetEnabled(v bool) { a.enabled.Store(v) }

// Enabled implements Toggler.
func (a *Audio) Enabled() bool { return a.enabled.Load() }

// Send implements Channel.
func (a *Audio) Send(ctx context.Context, al alerts.Alert) error {
	if !a.enabled.Load() {
		return nil
	}
	return a.run(ctx, a.player, filepath.Join(a.dir, string(al.Severity)+".wav"))
}

// Desktop raises an OS notification through a notify-send compatible command.
type Desktop struct {
	name    string
	command string
	run     runFunc
}

// NewDesktop creates a desktop notification channel.
func NewDesktop(name, command string) *Desktop {
	return &Desktop{name: name, command: command, run: runCommand}
}

// Name implements Channel.
func (d *Desktop) Name() string { return d.name }

// Send implements Channel.
func (d *Desktop) Send(ctx context.Context, a alerts.Alert) error {
	urgency := "normal"
	if a.Severity == alerts.SeverityCritical {
		urgency = "critical"
	}
	return d.run(ctx, d.command, "-u", urgency, "-a", "squeezewatch", a.Title(), a.Message())
}

// Log writes alerts to the structured log. It never fails.
type Log struct {
	name string
}

// NewLog creates a log channel.
func NewLog(name string) *Log { return &Log{name: name} }

// Name implements Channel.
func (l *Log) Name() string { return l.name }

// Send implements Channel.
func (l *Log) Send(_ context.Context, a alerts.Alert) error {
	slog.Warn("squeeze alert",
		"ticker", a.Ticker,
		"score", a.Score,
		"target", a.TargetScore,
		"severity", a.Severity,
		"alert_id", a.ID,
	)
	return nil
}
