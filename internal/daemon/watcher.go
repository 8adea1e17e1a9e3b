package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/logfields"
)

// ConfigWatcher reloads the config file when it changes on disk. Editors
// typically fire several events per save (truncate, write, rename), so
// reloads are debounced.
type ConfigWatcher struct {
	path     string
	onReload func(*config.Config)
	watcher  *fsnotify.Watcher
	debounce time.Duration

	reloadCh chan struct{}
	done     chan struct{}
}

// NewConfigWatcher watches the directory containing path. Watching the
// directory instead of the file survives the rename-over-save strategy most
// editors use.
func NewConfigWatcher(path string, onReload func(*config.Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	return &ConfigWatcher{
		path:     path,
		onReload: onReload,
		watcher:  watcher,
		debounce: 2 * time.Second,
		reloadCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the watch loop. It returns immediately.
func (w *ConfigWatcher) Start(ctx context.Context) {
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
}

func (w *ConfigWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.reloadCh <- struct{}{}:
			default: // reload already queued
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		}
	}
}

func (w *ConfigWatcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.reloadCh:
			timer := time.NewTimer(w.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-w.done:
				timer.Stop()
				return
			case <-timer.C:
			}
			w.performReload()
		}
	}
}

func (w *ConfigWatcher) performReload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		// Keep running on the previous config; a half-saved file must not
		// take the daemon down.
		slog.Warn("Config reload failed, keeping previous config",
			logfields.Path(w.path), logfields.Error(err))
		return
	}
	slog.Info("Config file changed, reloading", logfields.Path(w.path))
	w.onReload(cfg)
}

// Stop tears the watcher down.
func (w *ConfigWatcher) Stop() {
	close(w.done)
	if err := w.watcher.Close(); err != nil {
		slog.Debug("Failed to close config watcher", logfields.Error(err))
	}
}
