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

package task

import (
	"sync"

	"github.com/triggerkit/worker/pkg/errors"
)

// Registry holds registered tasks keyed by id, preserving insertion order.
// It is populated during file load and read-only afterwards; the lock exists
// so that tests and the ambient logger may read it concurrently.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that Define registers into.
func Default() *Registry {
	return defaultRegistry
}

// Register adds the task. It fails with *errors.DuplicateTaskError when the
// id is already present; the first registration is retained.
func (r *Registry) Register(t *Task) error {
	if t == nil {
		return &errors.InvalidTaskError{Reason: "nil task"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[t.id]; ok {
		return &errors.DuplicateTaskError{ID: t.id, FilePath: existing.filePath}
	}
	r.tasks[t.id] = t
	r.order = append(r.order, t.id)
	return nil
}

// Lookup returns the task registered under id.
func (r *Registry) Lookup(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// All returns the registered tasks in insertion order.
func (r *Registry) All() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Reset removes every registration. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = make(map[string]*Task)
	r.order = nil
}
