package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-indexes documents as their source files change on disk.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher
}

func NewWatcher(indexer *Indexer) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{indexer: indexer, watcher: w}, nil
}

// Watch monitors dir until the context is cancelled, indexing created and
// modified files and dropping removed ones. Indexing errors are logged,
// never fatal to the watch loop.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("watching document directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !Loadable(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if _, err := w.indexer.IndexFile(ctx, event.Name); err != nil {
					slog.Warn("failed to index changed file", "path", event.Name, "error", err)
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if err := w.indexer.RemoveFile(ctx, event.Name); err != nil {
					slog.Warn("failed to remove deleted file", "path", event.Name, "error", err)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		}
	}
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// loadablePaths lists loadable files directly under dir.
func loadablePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if Loadable(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}
