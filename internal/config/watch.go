package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch emits an empty struct whenever the config file changes on disk,
// debounced. Configuration is immutable at runtime, so serve only logs a
// reminder that a restart is needed. The watcher runs in a goroutine
// until the context is canceled.
func Watch(ctx context.Context, path string) <-chan struct{} {
	changed := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create fsnotify watcher", "error", err)
		return changed
	}

	absPath, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		slog.Warn("could not resolve config path for watching", "path", path)
		watcher.Close()
		return changed
	}
	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		slog.Warn("could not watch config directory", "path", absPath, "error", err)
		watcher.Close()
		return changed
	}

	go func() {
		defer watcher.Close()
		defer close(changed)

		var timer *time.Timer
		debounce := 500 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != absPath {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case changed <- struct{}{}:
						default:
						}
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watcher error", "error", err)
			}
		}
	}()

	return changed
}
