package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcoda/internal/logging"
)

// Watch monitors a config file and invokes onChange with the freshly loaded
// config after edits settle. Rapid saves are debounced. Returns when ctx is
// cancelled. Load errors after a change are logged, not fatal: the previous
// config stays in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops the
	// watch when the file itself is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	var pending time.Time

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	target := filepath.Clean(path)
	logging.Config("Watching %s for changes", target)

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryConfig).Error("Config watcher error: %v", err)

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < debounce {
				continue
			}
			pending = time.Time{}

			cfg, err := Load(path)
			if err != nil {
				logging.Get(logging.CategoryConfig).Error("Config reload failed: %v", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				logging.Get(logging.CategoryConfig).Error("Reloaded config invalid: %v", err)
				continue
			}
			logging.Config("Config reloaded from %s", path)
			onChange(cfg)
		}
	}
}
