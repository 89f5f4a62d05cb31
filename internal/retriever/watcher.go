package retriever

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the engine when files under the corpus dir change.
// Events are debounced so a bulk copy triggers one reload. It blocks
// until ctx is cancelled; run it in a goroutine.
func (e *Engine) Watch(ctx context.Context) error {
	dir := e.cfg.CorpusDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Warn("retriever: corpus dir missing, watch disabled", "dir", dir)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	const settle = 500 * time.Millisecond
	var pending *time.Timer
	var reloadCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(settle)
				reloadCh = pending.C
			} else {
				pending.Reset(settle)
			}

		case <-reloadCh:
			pending = nil
			reloadCh = nil
			if err := e.Reload(ctx); err != nil {
				slog.Error("retriever: corpus reload failed", "error", err)
			} else {
				slog.Info("retriever: corpus reloaded", "chunks", e.Size())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("retriever: watch error", "error", err)
		}
	}
}
