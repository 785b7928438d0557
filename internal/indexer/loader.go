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

package indexer

import (
	"log/slog"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/triggerkit/worker/pkg/errors"
)

// Loader brings a task file into the process so its tasks register
// themselves. Loading the same path twice is a no-op.
type Loader interface {
	Load(path string) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) error

// Load implements Loader.
func (f LoaderFunc) Load(path string) error { return f(path) }

// moduleNamespace salts synthetic module names so they never collide with
// user identifiers.
var moduleNamespace = uuid.MustParse("f1e0536d-3632-4b55-9fb8-1f27a0a85f57")

// PluginLoader loads task files built as Go plugins. Task registration runs
// in the plugin's init functions, so opening the file is the whole job.
type PluginLoader struct {
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewPluginLoader creates a plugin-backed loader.
func NewPluginLoader(logger *slog.Logger) *PluginLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginLoader{
		logger: logger,
		loaded: make(map[string]bool),
	}
}

// Load opens the plugin at path. Each file gets a deterministic synthetic
// module name derived from its stem, logged for correlating loads across
// worker restarts.
func (l *PluginLoader) Load(path string) error {
	l.mu.Lock()
	if l.loaded[path] {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	moduleName := ModuleName(path)
	l.logger.Debug("loading task file", "path", path, "module", moduleName)

	if _, err := plugin.Open(path); err != nil {
		return &errors.LoadError{FilePath: path, Cause: err}
	}

	l.mu.Lock()
	l.loaded[path] = true
	l.mu.Unlock()
	return nil
}

// ModuleName derives the deterministic synthetic module name for a task file
// from its stem.
func ModuleName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return uuid.NewSHA1(moduleNamespace, []byte(stem)).String()
}
