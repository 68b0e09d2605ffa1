package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 200 * time.Millisecond

// Watch reloads path whenever its contents change and hands each valid
// Config to onChange, until ctx is done. Invalid or unchanged contents are
// skipped and the running config stays in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}
	defer w.Close()

	// Rename-based saves replace the file; its directory stays put.
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watch %q: %w", dir, err)
	}

	current, _ := os.ReadFile(path)
	debounce := time.NewTimer(reloadDelay)
	debounce.Stop()
	defer debounce.Stop()

	slog.Info("config: watching for changes", "path", path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == name && ev.Has(fsnotify.Write|fsnotify.Create) {
				debounce.Reset(reloadDelay)
			}

		case <-debounce.C:
			data, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("config: unreadable after change", "path", path, "err", err)
				continue
			}
			if bytes.Equal(data, current) {
				slog.Debug("config: contents unchanged", "path", path)
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				slog.Error("config: invalid change ignored", "path", path, "err", err)
				continue
			}
			current = data
			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "path", path, "err", err)
		}
	}
}
