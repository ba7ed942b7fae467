package license

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce     = 250 * time.Millisecond
	defaultPollInterval = 60 * time.Second
)

// Watcher reloads a gate whenever the license files under the store directory change.
type Watcher struct {
	store    *Store
	gate     *Gate
	debounce time.Duration
	poll     time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher. A non-positive debounce uses the default.
func NewWatcher(store *Store, gate *Gate, debounce time.Duration, opts ...Option) *Watcher {
	o := newOptions(opts)
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		store:    store,
		gate:     gate,
		debounce: debounce,
		poll:     defaultPollInterval,
		logger:   o.logger.With(slog.String("component", "license_watcher")),
	}
}

// Run watches until ctx is done. When fsnotify is unavailable it falls back to
// polling file modification times.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.store.Dir(), dirPerm); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", slog.String("error", err.Error()))
		return w.pollLoop(ctx)
	}
	defer fw.Close()

	// The directory is watched rather than the files so that atomic renames
	// and first-time creation are seen.
	if err := fw.Add(w.store.Dir()); err != nil {
		w.logger.Warn("Failed to watch state directory, falling back to polling",
			slog.String("dir", w.store.Dir()),
			slog.String("error", err.Error()),
		)
		return w.pollLoop(ctx)
	}

	w.logger.Info("Watching license state", slog.String("dir", w.store.Dir()))
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if relevant(event) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("License watcher error", slog.String("error", err.Error()))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	switch filepath.Base(event.Name) {
	case CacheFileName, PendingFileName:
		return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
			event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	default:
		return false
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	snap := w.gate.Reload()
	w.logger.Info("License state changed on disk, gate reloaded",
		slog.Bool("activated", snap.record != nil))
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	last := w.modTimes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := w.modTimes()
			if current != last {
				last = current
				w.reload()
			}
		}
	}
}

type modTimes struct {
	cache, pending time.Time
}

func (w *Watcher) modTimes() modTimes {
	var m modTimes
	if info, err := os.Stat(w.store.Path()); err == nil {
		m.cache = info.ModTime()
	}
	if info, err := os.Stat(w.store.PendingPath()); err == nil {
		m.pending = info.ModTime()
	}
	return m
}
