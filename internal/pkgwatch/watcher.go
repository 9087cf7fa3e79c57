package pkgwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sharesheet/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader re-reads the package catalog.
type Reloader interface {
	Reload() error
}

// ChangeHandler runs after a successful reload, typically rebuilding every
// profile tab.
type ChangeHandler func(ctx context.Context) error

type Options struct {
	Path     string
	Debounce time.Duration
	Reloader Reloader
	OnChange ChangeHandler
	Logger   logging.Logger
}

// Watcher turns edits of the catalog file into package-changed rebuilds.
// Bursts of events within the debounce window collapse into one reload.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
	reloader  Reloader
	onChange  ChangeHandler
	logger    logging.Logger

	mu       sync.Mutex
	pending  time.Time
	running  bool
	changes  int
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(opts Options) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("catalog path is required")
	}
	if opts.Reloader == nil {
		return nil, errors.New("reloader is required")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		path:      path,
		debounce:  debounce,
		reloader:  opts.Reloader,
		onChange:  opts.OnChange,
		logger:    logging.OrNop(opts.Logger).With(logging.F("component", "package_watcher")),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the catalog's directory so editors that replace the file
// by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents()
	go w.processDebounce(ctx)
	w.logger.Info("package_watch_started", logging.F("path", w.path), logging.F("debounce", w.debounce))
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsWatcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.done) })
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Changes is the number of reloads that reached the change handler.
func (w *Watcher) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("package_watch_error", logging.Err(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// flushPending reloads once the catalog has been quiet for the debounce
// window.
func (w *Watcher) flushPending(ctx context.Context) {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	if _, err := os.Stat(w.path); err != nil {
		w.logger.Warn("catalog_missing", logging.F("path", w.path), logging.Err(err))
		return
	}
	if err := w.reloader.Reload(); err != nil {
		w.logger.Warn("catalog_reload_failed", logging.F("path", w.path), logging.Err(err))
		return
	}
	w.mu.Lock()
	w.changes++
	w.mu.Unlock()
	w.logger.Info("catalog_reloaded", logging.F("path", w.path))
	if w.onChange == nil {
		return
	}
	if err := w.onChange(ctx); err != nil {
		w.logger.Warn("packages_changed_rebuild_failed", logging.Err(err))
	}
}
