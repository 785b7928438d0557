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

// Package task is the public SDK for defining worker tasks. Defining a task
// registers it with the process-wide registry as a side effect, so that the
// indexer and the run worker discover it after the containing file is loaded.
package task

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triggerkit/worker/internal/wire"
	"github.com/triggerkit/worker/pkg/errors"
)

// RunFunc is the user-supplied task body. The payload is decoded from the
// run's JSON payload before the function is invoked; the return value is
// encoded back to JSON as the run output.
type RunFunc[In, Out any] func(ctx context.Context, payload In) (Out, error)

// Task is a registered task: an id, the source location of its definition,
// its configuration, and the type-erased run function.
type Task struct {
	id          string
	filePath    string
	description string
	retry       *wire.RetryConfig
	queue       *wire.QueueConfig
	maxDuration int // seconds

	payloadSchema *jsonschema.Schema
	run           func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Define creates a task and registers it with the default registry. The
// registering call site's file is recorded as the task's file path.
//
// It fails with *errors.InvalidTaskError when the id is empty or run is nil,
// with *errors.DuplicateTaskError when the id is already registered, and with
// an option error when a config option is invalid.
func Define[In, Out any](id string, run RunFunc[In, Out], opts ...Option) (*Task, error) {
	return define(2, Default(), id, run, opts...)
}

// MustDefine is Define but panics on error. Intended for package-level task
// declarations, where a bad definition should fail the file load.
func MustDefine[In, Out any](id string, run RunFunc[In, Out], opts ...Option) *Task {
	t, err := define(2, Default(), id, run, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefineIn registers a task against a specific registry. Tests use this to
// avoid the process-wide default.
func DefineIn[In, Out any](reg *Registry, id string, run RunFunc[In, Out], opts ...Option) (*Task, error) {
	return define(2, reg, id, run, opts...)
}

func define[In, Out any](skip int, reg *Registry, id string, run RunFunc[In, Out], opts ...Option) (*Task, error) {
	if id == "" {
		return nil, &errors.InvalidTaskError{Reason: "empty task id"}
	}
	if run == nil {
		return nil, &errors.InvalidTaskError{ID: id, Reason: "run function is nil"}
	}

	t := &Task{id: id, filePath: callerFile(skip + 1)}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	t.run = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, &errors.PayloadError{TaskID: id, Cause: err}
			}
		}

		out, err := run(ctx, in)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, &errors.OutputError{TaskID: id, Cause: err}
		}
		return data, nil
	}

	if err := reg.Register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// callerFile returns the source file of the frame skip levels up, or empty
// when introspection fails.
func callerFile(skip int) string {
	_, file, _, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return file
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// FilePath returns the source file that defined the task.
func (t *Task) FilePath() string { return t.filePath }

// Description returns the optional task description.
func (t *Task) Description() string { return t.description }

// Retry returns the task's retry configuration, or nil when unset.
func (t *Task) Retry() *wire.RetryConfig { return t.retry }

// Queue returns the task's queue configuration, or nil when unset.
func (t *Task) Queue() *wire.QueueConfig { return t.queue }

// MaxDuration returns the task's maximum run duration in seconds, or zero
// when unbounded.
func (t *Task) MaxDuration() int { return t.maxDuration }

// Execute runs the task against the encoded payload. The payload is validated
// against the task's payload schema when one is configured, then the user
// function runs on its own goroutine while Execute selects on completion and
// ctx. On cancellation the user goroutine keeps running to completion but its
// result is discarded; Execute returns the cancellation cause.
func (t *Task) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if err := t.validatePayload(payload); err != nil {
		return nil, err
	}

	type result struct {
		out json.RawMessage
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.NewPanicError(r)}
			}
		}()
		out, err := t.run(ctx, payload)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// validatePayload checks the payload against the configured JSON Schema.
func (t *Task) validatePayload(payload json.RawMessage) error {
	if t.payloadSchema == nil {
		return nil
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return &errors.PayloadError{TaskID: t.id, Cause: err}
	}
	if err := t.payloadSchema.Validate(doc); err != nil {
		return &errors.PayloadError{TaskID: t.id, Cause: err}
	}
	return nil
}

// Resource returns the task's catalog entry for the indexer.
func (t *Task) Resource() wire.TaskResource {
	return wire.TaskResource{
		ID:          t.id,
		FilePath:    t.filePath,
		ExportName:  t.id,
		Description: t.description,
		Retry:       t.retry,
		Queue:       t.queue,
		MaxDuration: t.maxDuration,
	}
}
