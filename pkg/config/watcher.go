package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes and hands the result to a
// callback. Files that fail to load are logged and skipped, so the last good
// config stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// reloadMu serializes reloads fired by successive debounce timers.
	reloadMu sync.Mutex
}

// NewWatcher creates a watcher for path. A nil logger uses slog.Default().
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Start begins watching until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(ctx, watcher, done)
	return nil
}

// Stop stops the watcher and waits for it to exit. No callback runs after
// Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
		// Wait out a reload that was already running.
		w.reloadMu.Lock()
		w.reloadMu.Unlock()
	}
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// fire runs one debounced reload unless the watcher has stopped.
func (w *Watcher) fire(ctx context.Context) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	w.reload()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "servers", len(cfg.Servers))
	w.onChange(cfg)
}
