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

// Package manifest loads and resolves the build manifest the bundler writes
// next to a task bundle. The manifest tells the worker which files to load;
// unknown fields are ignored so older workers keep reading newer bundles.
package manifest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triggerkit/worker/pkg/errors"
	"github.com/triggerkit/worker/schemas"
)

// DefaultPath is where the bundler writes the manifest unless
// TRIGGER_BUILD_MANIFEST_PATH points elsewhere.
const DefaultPath = "./build-manifest.json"

// BuildManifest describes a task bundle.
type BuildManifest struct {
	// ConfigPath is the project configuration the bundle was built from.
	ConfigPath string `json:"configPath,omitempty"`

	// Files lists the task files in the bundle.
	Files []FileEntry `json:"files"`

	// RunWorkerEntryPoint is the entry the coordinator spawns for execution.
	RunWorkerEntryPoint string `json:"runWorkerEntryPoint,omitempty"`

	// Runtime identifies the runtime the bundle targets.
	Runtime string `json:"runtime,omitempty"`

	// Dir is the directory the manifest was loaded from; relative file
	// entries resolve against it. Not part of the JSON shape.
	Dir string `json:"-"`
}

// FileEntry names one task file, either directly or via its bundler entry.
// Paths may use ** glob patterns.
type FileEntry struct {
	FilePath string `json:"filePath,omitempty"`
	Entry    string `json:"entry,omitempty"`
}

// Path returns the effective path of the entry.
func (e FileEntry) Path() string {
	if e.FilePath != "" {
		return e.FilePath
	}
	return e.Entry
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func manifestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemas.BuildManifestSchema()))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemas.BuildManifestSchemaID, doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(schemas.BuildManifestSchemaID)
	})
	return schema, schemaErr
}

// Load reads and parses the manifest at path. A missing or unparseable file
// is a hard error; schema violations that still decode are logged as
// warnings so a slightly newer bundler does not strand the worker.
func Load(path string, logger *slog.Logger) (*BuildManifest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ManifestError{Path: path, Reason: "cannot read", Cause: err}
	}

	m := &BuildManifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &errors.ManifestError{Path: path, Reason: "invalid JSON", Cause: err}
	}
	if len(m.Files) == 0 {
		return nil, &errors.ManifestError{Path: path, Reason: "no files listed"}
	}

	if s, err := manifestSchema(); err != nil {
		logger.Warn("build manifest schema unavailable", "error", err)
	} else if doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data)); err == nil {
		if err := s.Validate(doc); err != nil {
			logger.Warn("build manifest does not match schema", "path", path, "error", err)
		}
	}

	m.Dir = filepath.Dir(path)
	return m, nil
}

// TaskFilePaths resolves every file entry to concrete paths, expanding glob
// patterns relative to the manifest directory. Order follows the manifest;
// duplicates collapse to their first occurrence.
func (m *BuildManifest) TaskFilePaths() ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, entry := range m.Files {
		pattern := entry.Path()
		if pattern == "" {
			continue
		}

		if !hasGlobMeta(pattern) {
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(m.Dir, pattern)
			}
			add(pattern)
			continue
		}

		base := m.Dir
		if filepath.IsAbs(pattern) {
			base = string(filepath.Separator)
			pattern = pattern[1:]
		}
		matches, err := doublestar.Glob(os.DirFS(base), pattern)
		if err != nil {
			return nil, &errors.ManifestError{Path: pattern, Reason: "bad glob pattern", Cause: err}
		}
		for _, match := range matches {
			add(filepath.Join(base, match))
		}
	}

	return paths, nil
}

func hasGlobMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
