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
	"context"
	"sync/atomic"
)

// TaskContext is the ambient per-run metadata visible to user code and the
// logger. The engine installs it before the task body runs and clears it on
// exit; it is read-only to user code. Environment metadata is flattened into
// a string map.
type TaskContext struct {
	TaskID       string
	TaskFilePath string

	RunID   string
	RunTags []string
	IsTest  bool

	AttemptID     string
	AttemptNumber int
	StartedAt     string

	BatchID   string
	QueueName string

	OrganizationID   string
	OrganizationSlug string
	OrganizationName string

	ProjectID   string
	ProjectRef  string
	ProjectSlug string
	ProjectName string

	Environment map[string]string

	DeploymentID      string
	DeploymentVersion string
}

// IsRetry reports whether this attempt is a retry of an earlier one.
func (c *TaskContext) IsRetry() bool {
	return c != nil && c.AttemptNumber > 1
}

// The worker executes a single run per process lifetime, so the ambient slot
// is one atomic pointer rather than a goroutine-keyed store.
var current atomic.Pointer[TaskContext]

// Install makes tc the ambient context for the duration of a run.
func Install(tc *TaskContext) {
	current.Store(tc)
}

// Current returns the ambient context, or nil outside a run.
func Current() *TaskContext {
	return current.Load()
}

// Clear removes the ambient context.
func Clear() {
	current.Store(nil)
}

type contextKey struct{}

// NewContext returns a context carrying tc, for explicit threading through
// APIs that already take a context.Context.
func NewContext(ctx context.Context, tc *TaskContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the TaskContext carried by ctx, falling back to the
// ambient context when ctx carries none.
func FromContext(ctx context.Context) *TaskContext {
	if tc, ok := ctx.Value(contextKey{}).(*TaskContext); ok {
		return tc
	}
	return Current()
}
