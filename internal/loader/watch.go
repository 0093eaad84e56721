package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay groups the bursts of events editors produce on save.
const debounceDelay = 100 * time.Millisecond

// Watch reloads the catalog under dir whenever a template file changes and calls
// onReload with the new catalog or the load error. Directories created while
// watching are watched too. onReload runs on the calling goroutine and never
// after Watch returns. It blocks until ctx is done.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onReload func(*Catalog, error)) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Debounce timer. pending is nil while no reload is scheduled.
	var (
		debounceTimer *time.Timer
		pending       <-chan time.Time
		changed       string
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(watcher, event, logger) {
				continue
			}

			if debounceTimer == nil {
				debounceTimer = time.NewTimer(debounceDelay)
			} else {
				debounceTimer.Reset(debounceDelay)
			}
			pending = debounceTimer.C
			changed = event.Name

		case <-pending:
			pending = nil
			logger.Debug("template changed, reloading", "file", changed)
			onReload(Load(dir))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

// relevant reports whether event should trigger a reload. A new directory is
// added to the watcher and always triggers one, since templates may have been
// written into it before its watch was registered.
func relevant(watcher *fsnotify.Watcher, event fsnotify.Event, logger *slog.Logger) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watchDirRecursive(watcher, event.Name); err != nil {
				logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
			return true
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return isTemplateFile(event.Name)
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
