package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange whenever the credential file is created, written,
// removed or renamed, by this process or any other. It watches the
// containing directory because the file itself comes and goes. Watch
// blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return &StoreError{Op: "watch", Path: s.dir, Err: err}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != s.path {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				onChange()
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// Overflow and similar errors are not fatal. The cache is
			// re-validated on the next 401 anyway.
		}
	}
}
