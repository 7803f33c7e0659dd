package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile reloads the document from path whenever the file is written or
// replaced, until ctx is cancelled. The parent directory is watched so that
// editors that save by rename are followed.
func (b *Bridge) WatchFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("agent: watching document file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := b.Do(ctx, func(context.Context) { b.reload(abs) }); err != nil {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("agent: watcher error", "error", err)
		}
	}
}

// reload replaces the document tree with the file's current contents. The
// new tree is reported to the harvester as a single added region.
func (b *Bridge) reload(path string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("agent: reload failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	if err := b.doc.Replace(f); err != nil {
		slog.Warn("agent: reload failed", "path", path, "error", err)
		return
	}
	slog.Debug("agent: document reloaded", "path", path)
}
