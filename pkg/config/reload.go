package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/summon/pkg/logger"
)

// DefaultDebouncePeriod coalesces bursts of editor writes into one change
const DefaultDebouncePeriod = 300 * time.Millisecond

// ChangeEvent lists configuration files whose content changed, appeared or vanished
type ChangeEvent struct {
	Paths     []string
	Timestamp time.Time
}

// ChangeCallback is called after a debounced content change
type ChangeCallback func(ChangeEvent)

// Watcher watches target configuration files in a set of directories.
// Callbacks fire only when file content actually differs, so saves without
// edits and touch do not cause a refresh.
type Watcher struct {
	dirs           []string
	fileNames      map[string]bool
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ChangeCallback
	fingerprints   map[string]uint64
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isWatching     bool
}

// NewWatcher creates a watcher for fileNames inside dirs
func NewWatcher(dirs []string, fileNames []string, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	names := make(map[string]bool, len(fileNames))
	for _, n := range fileNames {
		names[n] = true
	}
	return &Watcher{
		dirs:           dirs,
		fileNames:      names,
		logger:         log,
		debouncePeriod: DefaultDebouncePeriod,
	}
}

// AddCallback adds a change callback
func (w *Watcher) AddCallback(callback ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// SetDebouncePeriod sets the debounce period for file change events
func (w *Watcher) SetDebouncePeriod(period time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debouncePeriod = period
}

// Start begins watching. Directories that do not exist are skipped.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		return fmt.Errorf("already watching configuration files")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	added := 0
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			w.logger.Warn("Cannot watch directory",
				logger.WithField("dir", dir),
				logger.WithField("error", err))
			continue
		}
		added++
	}
	if added == 0 {
		watcher.Close()
		return fmt.Errorf("no watchable directory among %v", w.dirs)
	}

	w.watcher = watcher
	w.fingerprints = w.snapshot()
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.isWatching = true

	go w.watchLoop(w.ctx, watcher)

	w.logger.Debug("Started watching configuration files",
		logger.WithField("dirs", len(w.dirs)),
		logger.WithField("files", len(w.fingerprints)))
	return nil
}

// Stop stops watching. Safe to call when not watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}

	w.cancel()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}
	w.isWatching = false

	w.logger.Debug("Stopped watching configuration files")
	return err
}

// IsWatching returns whether the watcher is running
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}

// Check compares current file content with the last snapshot and notifies
// callbacks when something changed. It returns the changed paths.
func (w *Watcher) Check() []string {
	current := w.snapshot()

	w.mu.Lock()
	changed := diffFingerprints(w.fingerprints, current)
	w.fingerprints = current
	callbacks := make([]ChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if len(changed) == 0 {
		w.logger.Debug("Configuration content unchanged, skipping refresh")
		return nil
	}

	w.logger.Info("Configuration files changed",
		logger.WithField("files", len(changed)))

	event := ChangeEvent{Paths: changed, Timestamp: time.Now()}
	for _, cb := range callbacks {
		w.invoke(cb, event)
	}
	return changed
}

func (w *Watcher) invoke(cb ChangeCallback, event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Change callback panic recovered",
				logger.WithField("panic", r))
		}
	}()
	cb(event)
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.fileNames[filepath.Base(event.Name)] {
				continue
			}
			w.logger.Debug("Configuration file event received",
				logger.WithField("event", event.String()))
			w.debounce()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration file watcher error",
				logger.WithField("error", err))
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return
	}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		w.Check()
	})
}

// snapshot hashes every existing watched file
func (w *Watcher) snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	for _, dir := range w.dirs {
		for name := range w.fileNames {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			out[path] = xxhash.Sum64(data)
		}
	}
	return out
}

func diffFingerprints(before, after map[string]uint64) []string {
	var changed []string
	for path, sum := range after {
		if prev, ok := before[path]; !ok || prev != sum {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
