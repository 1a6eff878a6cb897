// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from disk whenever its backing file changes
// and invokes OnChange with the freshly decoded, validated result.
type Watcher struct {
	loader   *Loader
	path     string
	onChange func(*Config)
	logger   *slog.Logger

	watcher *fsnotify.Watcher
}

func NewWatcher(loader *Loader, path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch directory: %w", err)
	}

	return &Watcher{loader: loader, path: absPath, onChange: onChange, logger: logger, watcher: fsw}, nil
}

// Run watches until ctx is cancelled, debouncing rapid successive
// writes to the config file before reloading.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	const debounce = 100 * time.Millisecond
	var timer *time.Timer
	fileName := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != fileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() { w.reload() })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config: watcher error", "component", "ConfigWatcher", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("config: reload failed, keeping prior config", "component", "ConfigWatcher", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config: reloaded", "component", "ConfigWatcher", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
