package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 250 * time.Millisecond

// Watch calls fn with the reloaded config whenever the file at path
// changes. It watches the parent directory so atomic replacements are
// seen. Invalid files are logged and skipped. It blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	logger := slog.With("component", "config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Debug("watching config for changes", "path", path)

	var debounceTimer *time.Timer
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// Debounce: editors write in several steps.
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					return
				}
				logger.Info("config reloaded",
					"biometric_enabled", cfg.BiometricEnabled,
					"auto_lock_enabled", cfg.AutoLockEnabled)
				fn(cfg)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
