package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scalewire/go-weighbridge/logger"
)

// DefaultDebounce coalesces the burst of filesystem events an editor or
// atomic rename produces for one logical rewrite.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports debounced change events for one configuration file.
//
// The file's directory is watched rather than the file itself, so rewrites
// that replace the file (write to temp, rename over) are still observed.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   logger.Logger

	events chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the config file at path. A nonpositive
// debounce falls back to DefaultDebounce; a nil log falls back to the
// package default logger.
func NewWatcher(path string, debounce time.Duration, log logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   log,
		events:   make(chan struct{}, 1),
	}
}

// Events returns the channel change notifications are delivered on. Events
// coalesce: a notification that has not been consumed absorbs later ones.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run watches the config file until ctx is canceled. It blocks; run it on
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()
	defer w.stopTimer()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	w.logger.Info("watching config file", "path", w.path, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.scheduleNotify()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

// scheduleNotify (re)arms the debounce timer; the notification fires once
// the file has been quiet for the debounce window.
func (w *Watcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.events <- struct{}{}:
		default:
			// An undelivered notification already covers this change.
		}
		w.logger.Debug("config file changed", "path", w.path)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}
