package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor or atomic
// rename produces into one reload.
const watchDebounce = 500 * time.Millisecond

// Watch monitors the config file for changes and invokes onChange
// after each settled modification. It blocks until ctx is cancelled.
// The parent directory is watched rather than the file itself so that
// replace-by-rename saves keep working.
func (c *Config) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Debug("config watcher close failed", "error", err)
		}
	}()

	dir := filepath.Dir(c.filePath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(c.filePath)

	slog.Info("watching config file", "path", c.filePath)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			slog.Info("config file changed", "path", c.filePath)
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
