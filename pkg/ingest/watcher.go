// Copyright 2025 The RagForge Authors
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

package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ragforge/ragforge/pkg/config"
)

const (
	watcherBackoffBase = time.Second
	watcherBackoffMax  = time.Minute
)

// Watcher re-ingests a project's files when they change. Events are
// debounced and coalesced per path; ingestion runs serialise through the
// engine's lock.
type Watcher struct {
	engine   *Engine
	project  config.ProjectConfig
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher for one project root.
func NewWatcher(engine *Engine, project config.ProjectConfig) *Watcher {
	return &Watcher{
		engine:   engine,
		project:  project,
		debounce: engine.cfg.Debounce(),
		pending:  make(map[string]struct{}),
	}
}

// Run watches until the context is cancelled, restarting the underlying
// fsnotify watcher with exponential backoff if it fails.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := watcherBackoffBase
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Watcher stopped, restarting", "project", w.project.Name,
			"backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > watcherBackoffMax {
			backoff = watcherBackoffMax
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	err = filepath.WalkDir(w.project.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.project.Path && w.engine.excluded(w.project.Path, path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		return err
	}

	slog.Info("Watching project", "project", w.project.Name, "path", w.project.Path,
		"debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories need to be watched too.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = fsw.Add(event.Name)
					continue
				}
			}
			if w.engine.included(event.Name) && !w.engine.excluded(w.project.Path, event.Name) {
				w.record(ctx, event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// record queues a path and (re)arms the debounce timer. A burst of events
// against the same files produces exactly one ingestion run.
func (w *Watcher) record(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) == 0 || ctx.Err() != nil {
		return
	}

	stats, err := w.engine.IngestPaths(ctx, w.project, paths)
	if err != nil {
		slog.Warn("Watcher ingestion failed", "project", w.project.Name, "error", err)
		return
	}
	slog.Info("Watcher ingestion complete", "project", w.project.Name, "files", len(paths),
		"created", stats.Created, "modified", stats.Modified,
		"deleted", stats.Deleted, "skipped", stats.Skipped)
}
