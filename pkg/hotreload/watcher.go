// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hotreload

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultPluginPollInterval is the polling-fallback interval for
	// watched Plugin artifacts.
	DefaultPluginPollInterval = 5 * time.Second
	// DefaultAdapterPollInterval is the polling-fallback interval for
	// watched Adapter artifacts.
	DefaultAdapterPollInterval = 10 * time.Second

	maxRetryAttempts = 3
	retryBaseDelay   = 100 * time.Millisecond
)

// ReloadFunc re-initializes one component from its artifact path. It
// is invoked from the watcher goroutine and must not block
// indefinitely.
type ReloadFunc func(ctx context.Context, componentID, path string) error

// Watched is one filesystem artifact the Watcher tracks for a
// component.
type Watched struct {
	ComponentID string
	Path        string
}

// Watcher detects Plugin/Adapter artifact changes via an fsnotify
// fast path, falling back to mtime polling via a Tracker when
// fsnotify is unavailable for a path (e.g. it lives on a filesystem
// without inotify support), and drives a bounded retry loop on
// reload failure.
type Watcher struct {
	tracker      *Tracker
	history      *History
	pollInterval time.Duration
	reload       ReloadFunc
	logger       *slog.Logger

	fsWatcher *fsnotify.Watcher
	watched   map[string]Watched // path -> Watched

	stop chan struct{}
	done chan struct{}
}

// Option configures a Watcher at construction.
type Option func(*Watcher)

func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func NewWatcher(tracker *Tracker, history *History, reload ReloadFunc, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		tracker:      tracker,
		history:      history,
		pollInterval: DefaultPluginPollInterval,
		reload:       reload,
		logger:       slog.Default(),
		fsWatcher:    fsw,
		watched:      make(map[string]Watched),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds componentID/path to the tracked set. The fsnotify fast
// path is attempted first; polling always runs as the fallback for
// paths fsnotify cannot watch.
func (w *Watcher) Watch(componentID, path string) {
	w.watched[path] = Watched{ComponentID: componentID, Path: path}
	if err := w.fsWatcher.Add(path); err != nil {
		w.logger.Debug("hotreload: fsnotify unavailable for path, relying on polling", "component", "HotReloadWatcher", "path", path, "error", err)
	}
}

// Run drives the watch loop until the context is cancelled or Stop is
// called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handleChange(ctx, ev.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				continue
			}
			w.logger.Warn("hotreload: fsnotify error", "component", "HotReloadWatcher", "error", err)
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Stop halts Run and releases the fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.fsWatcher.Close()
}

func (w *Watcher) poll(ctx context.Context) {
	for path, watched := range w.watched {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if w.tracker.Changed(watched.ComponentID, info.ModTime()) {
			w.handleChange(ctx, path)
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string) {
	watched, ok := w.watched[path]
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mtime := info.ModTime()
	if !w.tracker.Changed(watched.ComponentID, mtime) {
		return
	}
	w.tracker.Touch(watched.ComponentID, mtime)

	w.reloadWithRetry(ctx, watched, mtime)
}

// reloadWithRetry attempts reload up to maxRetryAttempts times with a
// linear backoff of retryBaseDelay*attempt, recording one History
// entry for the final outcome.
func (w *Watcher) reloadWithRetry(ctx context.Context, watched Watched, mtime time.Time) {
	runID := NewRunID()
	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		if err := w.reload(ctx, watched.ComponentID, watched.Path); err != nil {
			lastErr = err
			w.logger.Warn("hotreload: reload attempt failed", "component", "HotReloadWatcher", "run_id", runID, "target", watched.ComponentID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			}
			continue
		}
		lastErr = nil
		break
	}

	entry := Entry{
		RunID:         runID,
		ComponentID:   watched.ComponentID,
		Path:          watched.Path,
		Timestamp:     time.Now(),
		MTimeObserved: mtime,
		Success:       lastErr == nil,
	}
	if lastErr != nil {
		entry.Error = lastErr.Error()
		w.logger.Error("hotreload: reload exhausted retries", "component", "HotReloadWatcher", "run_id", runID, "target", watched.ComponentID, "error", lastErr)
	} else {
		w.logger.Info("hotreload: reloaded", "component", "HotReloadWatcher", "run_id", runID, "target", watched.ComponentID)
	}
	w.history.Record(entry)
}
