// Copyright 2025 Tom Barlow
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

// Package indexer discovers the task catalog: it loads every file the build
// manifest names, lets the tasks register themselves, and reports the
// resulting catalog to the coordinator.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/triggerkit/worker/internal/ipc"
	"github.com/triggerkit/worker/pkg/errors"
	"github.com/triggerkit/worker/internal/manifest"
	"github.com/triggerkit/worker/internal/wire"
	"github.com/triggerkit/worker/pkg/task"
)

// Indexer loads task files and emits the catalog.
type Indexer struct {
	conn     ipc.Connection
	registry *task.Registry
	loader   Loader
	logger   *slog.Logger

	// entryPoints maps task ids to the manifest entry whose load registered
	// them. The registry records only the Go call site, which is useless to a
	// coordinator that addresses tasks by bundle file.
	entryPoints map[string]string

	// flatCatalog selects the streaming catalog message over the manifest
	// envelope. The gRPC transport cannot carry the envelope.
	flatCatalog bool
}

// Options configures an Indexer.
type Options struct {
	// FlatCatalog emits INDEX_TASKS_COMPLETE instead of INDEX_COMPLETE.
	// Set for the gRPC transport.
	FlatCatalog bool
}

// New creates an indexer over the given connection and registry.
func New(conn ipc.Connection, registry *task.Registry, loader Loader, logger *slog.Logger, opts Options) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		conn:        conn,
		registry:    registry,
		loader:      loader,
		logger:      logger,
		entryPoints: make(map[string]string),
		flatCatalog: opts.FlatCatalog,
	}
}

// Index loads every file the manifest names and sends the catalog. Missing
// files are skipped with a warning; load failures become importErrors
// entries. Only a manifest that cannot be resolved at all fails the pass.
func (ix *Indexer) Index(ctx context.Context, m *manifest.BuildManifest) error {
	paths, err := m.TaskFilePaths()
	if err != nil {
		return err
	}

	var importErrors []wire.ImportError
	for _, path := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := os.Stat(path); err != nil {
			ix.logger.Warn("task file missing, skipping", "path", path)
			continue
		}

		before := ix.registry.Len()
		if err := ix.loader.Load(path); err != nil {
			ix.logger.Warn("task file failed to load", "path", path, "error", err)
			importErrors = append(importErrors, wire.ImportError{
				FilePath: path,
				Error:    err.Error(),
			})
		}

		// Registrations append in order, so everything past the snapshot is
		// what this load produced.
		for _, t := range ix.registry.All()[before:] {
			ix.entryPoints[t.ID()] = path
		}
	}

	return ix.emit(m, importErrors)
}

// emit sends the catalog in the form the transport can carry.
func (ix *Indexer) emit(m *manifest.BuildManifest, importErrors []wire.ImportError) error {
	tasks := make([]wire.TaskResource, 0, ix.registry.Len())
	for _, t := range ix.registry.All() {
		res := t.Resource()
		res.EntryPoint = ix.entryPoints[res.ID]
		tasks = append(tasks, res)
	}
	ix.logger.Info("indexing complete", "tasks", len(tasks), "importErrors", len(importErrors))

	if ix.flatCatalog {
		return ix.conn.Send(wire.NewIndexTasksComplete(tasks))
	}

	return ix.conn.Send(wire.NewIndexComplete(wire.IndexPayload{
		Manifest: wire.IndexManifest{
			ConfigPath:       m.ConfigPath,
			Tasks:            tasks,
			WorkerEntryPoint: m.RunWorkerEntryPoint,
			Runtime:          m.Runtime,
		},
		ImportErrors: importErrors,
	}))
}

// Watch re-indexes whenever the manifest is rewritten. Bundler rebuilds
// write new content-hashed entry paths into the same manifest file, so
// watching that one path covers the whole dev loop. Returns when ctx ends.
func (ix *Indexer) Watch(ctx context.Context, manifestPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating manifest watcher")
	}
	defer watcher.Close()

	// Watch the directory: editors and bundlers replace files by rename,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(manifestPath)); err != nil {
		return errors.Wrapf(err, "watching %s", filepath.Dir(manifestPath))
	}

	ix.logger.Info("watching build manifest", "path", manifestPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != manifestPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			m, err := manifest.Load(manifestPath, ix.logger)
			if err != nil {
				ix.logger.Warn("manifest reload failed", "error", err)
				continue
			}
			if err := ix.Index(ctx, m); err != nil {
				ix.logger.Warn("re-index failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("manifest watcher error", "error", err)
		}
	}
}
