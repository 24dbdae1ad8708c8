// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoConfigPath is returned by NewConfigWatcher for an empty path.
var ErrNoConfigPath = errors.New("config watcher needs a file path")

// DefaultReloadDebounce coalesces editor write bursts into one reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// ConfigWatcher reloads a config file through LoadConfig whenever it
// changes on disk. A file that fails to load or validate is logged and
// ignored; Current keeps returning the last good config.
//
// The parent directory is watched rather than the file so that editors
// which replace the file on save are still seen.
//
// Thread Safety: Current is safe for concurrent use. OnChange must be set
// before Start.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	onChange func(Config)

	current atomic.Pointer[Config]
	reloads atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *ConfigWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *ConfigWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewConfigWatcher creates a watcher for path seeded with initial.
func NewConfigWatcher(path string, initial Config, opts ...WatcherOption) (*ConfigWatcher, error) {
	if path == "" {
		return nil, ErrNoConfigPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &ConfigWatcher{
		path:     abs,
		watcher:  fw,
		logger:   slog.Default(),
		debounce: DefaultReloadDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(&initial)
	return w, nil
}

// OnChange registers fn to run after every successful reload.
func (w *ConfigWatcher) OnChange(fn func(Config)) {
	w.onChange = fn
}

// Current returns the last successfully loaded config.
func (w *ConfigWatcher) Current() Config {
	return *w.current.Load()
}

// Reloads returns the number of successful reloads.
func (w *ConfigWatcher) Reloads() int64 {
	return w.reloads.Load()
}

// Start begins watching. It returns once the watch is registered.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.loop(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.current.Store(&cfg)
	w.reloads.Add(1)
	w.logger.Info("config reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
