// Package watch reports changes to the server's configuration file.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"anvil/internal/logging"
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// ConfigChanges watches path and closes the returned channel the first time
// the file is written, replaced, or removed. The parent directory is watched so
// editors that save through a rename are noticed. Watching stops when ctx is
// done or after the first change.
func ConfigChanges(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	logger = logging.NewComponentLogger(logger, "watch")
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	changed := make(chan struct{})
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&relevantOps == 0 {
					continue
				}
				logger.Info("configuration changed",
					logging.String(logging.FieldEventType, "config_changed"),
					logging.String("path", target),
					logging.String("op", event.Op.String()))
				close(changed)
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.WarnWithContext(logger, "config watcher error", "config_watch_error",
					logging.Error(err),
					logging.String(logging.FieldImpact, "configuration edits may go unnoticed"),
					logging.String(logging.FieldErrorHint, "restart the server after editing the config"))
			}
		}
	}()
	return changed, nil
}
