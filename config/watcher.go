package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
)

// debounceDelay coalesces editor write bursts (truncate+write+chmod)
// into a single reload.
const debounceDelay = 500 * time.Millisecond

// ownWriteWindow suppresses reload storms caused by our own Save calls.
const ownWriteWindow = 2 * time.Second

// ReloadCallback runs after the configuration has been reloaded.
type ReloadCallback func(cfg *Config) error

// ConfigWatcher reloads the configuration when the watched file changes
// on disk. Reloads are debounced and writes made through Save are
// ignored.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	logger     *zap.SugaredLogger

	mu        sync.Mutex
	callbacks []ReloadCallback

	debounceMu sync.Mutex
	debounce   *time.Timer

	ownWriteMu sync.Mutex
	ownWriteAt time.Time

	started bool
	done    chan struct{}
}

var (
	watcherMu      sync.Mutex
	currentWatcher *ConfigWatcher
)

func activeWatcher() *ConfigWatcher {
	watcherMu.Lock()
	defer watcherMu.Unlock()
	return currentWatcher
}

// NewConfigWatcher watches configPath for changes. The file does not
// need to exist yet; the parent directory is watched so create events
// are seen.
func NewConfigWatcher(configPath string, logger *zap.SugaredLogger) (*ConfigWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	w := &ConfigWatcher{
		watcher:    fsWatcher,
		configPath: configPath,
		logger:     logger,
		done:       make(chan struct{}),
	}

	watcherMu.Lock()
	currentWatcher = w
	watcherMu.Unlock()

	return w, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *ConfigWatcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// MarkOwnWrite tells the watcher the next change event is ours.
func (w *ConfigWatcher) MarkOwnWrite() {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	w.ownWriteAt = time.Now()
}

func (w *ConfigWatcher) checkOwnWrite() bool {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	return time.Since(w.ownWriteAt) < ownWriteWindow
}

// Start begins watching. It returns once the watch is registered; events
// are processed until ctx is cancelled or Close is called.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	// Watch the directory rather than the file so atomic saves
	// (rename-over) and late creation are caught.
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}

	w.started = true
	go w.watchLoop(ctx)

	if w.logger != nil {
		w.logger.Debugw("Config watcher started", "path", w.configPath)
	}
	return nil
}

func (w *ConfigWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevantEvent(event) {
				continue
			}
			if w.checkOwnWrite() {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warnw("Config watcher error", "error", err)
			}
		}
	}
}

func (w *ConfigWatcher) relevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return false
	}
	return !isBackupFile(event.Name)
}

func isBackupFile(name string) bool {
	return strings.Contains(filepath.Base(name), ".back")
}

func (w *ConfigWatcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.reload)
}

func (w *ConfigWatcher) reload() {
	Reset()
	cfg, err := Load()
	if err != nil {
		if w.logger != nil {
			w.logger.Warnw("Config reload failed", "error", err)
		}
		return
	}

	if w.logger != nil {
		w.logger.Infow("Config reloaded", "path", w.configPath)
	}

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil && w.logger != nil {
			w.logger.Warnw("Config reload callback failed", "error", err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *ConfigWatcher) Close() error {
	watcherMu.Lock()
	if currentWatcher == w {
		currentWatcher = nil
	}
	watcherMu.Unlock()

	err := w.watcher.Close()
	if w.started {
		<-w.done
	}

	w.debounceMu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounceMu.Unlock()

	return err
}
