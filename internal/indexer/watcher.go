package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads whenever the dataset file changes, waiting for debounce to
// pass without further changes first. It watches the parent directory so
// editors that replace the file by rename are seen. Watch blocks until ctx
// is done and requires a FileSource.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration) error {
	src, ok := e.source.(*FileSource)
	if !ok {
		return fmt.Errorf("watching requires a file source, have %s", e.source.Name())
	}
	path, err := filepath.Abs(src.Path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", src.Path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	e.logger.Info("watching vocabulary file", "path", path, "debounce", debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			e.logger.Debug("vocabulary file changed", "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			// Reload logs its own failure; the old snapshot stays live.
			_, _ = e.Reload(ctx)
		}
	}
}
