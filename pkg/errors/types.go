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

// Package errors defines the typed error values shared across the worker
// runtime. Components return these so that callers can classify failures with
// errors.As before anything reaches the wire.
package errors

import "fmt"

// DuplicateTaskError reports a second registration of an already-registered
// task id. Registration fails loudly; the first entry is retained.
type DuplicateTaskError struct {
	// ID is the task identifier that was registered twice.
	ID string

	// FilePath is the source location of the conflicting registration.
	FilePath string
}

// Error implements the error interface.
func (e *DuplicateTaskError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("task %q already registered (duplicate at %s)", e.ID, e.FilePath)
	}
	return fmt.Sprintf("task %q already registered", e.ID)
}

// InvalidTaskError reports a task definition that cannot be registered.
type InvalidTaskError struct {
	// ID is the task identifier, possibly empty when the id itself is the
	// problem.
	ID string

	// Reason explains what is wrong with the definition.
	Reason string
}

// Error implements the error interface.
func (e *InvalidTaskError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid task %q: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// TaskNotFoundError reports a lookup for a task id that is not in the
// registry, typically after the file it should live in was loaded.
type TaskNotFoundError struct {
	// ID is the task identifier that was not found.
	ID string

	// FilePath is the file that was expected to register the task.
	FilePath string
}

// Error implements the error interface.
func (e *TaskNotFoundError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("task %q not found after loading %s", e.ID, e.FilePath)
	}
	return fmt.Sprintf("task %q not found", e.ID)
}

// ManifestError reports a build manifest that is missing or cannot be parsed.
// This is fatal to the indexer: it exits non-zero.
type ManifestError struct {
	// Path is the manifest location that failed to load.
	Path string

	// Reason explains the failure.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	msg := fmt.Sprintf("build manifest %s: %s", e.Path, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ManifestError) Unwrap() error {
	return e.Cause
}

// LoadError reports a task file that could not be loaded into the process.
// The engine maps it to COULD_NOT_IMPORT_TASK on the wire.
type LoadError struct {
	// FilePath is the file that failed to load.
	FilePath string

	// Cause is the underlying loader error.
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load task file %s: %v", e.FilePath, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// PayloadError reports a run payload that could not be decoded or that failed
// the task's payload schema. The engine maps it to TASK_INPUT_ERROR.
type PayloadError struct {
	// TaskID is the task the payload was destined for.
	TaskID string

	// Cause is the decode or validation error.
	Cause error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid payload for task %q: %v", e.TaskID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PayloadError) Unwrap() error {
	return e.Cause
}

// OutputError reports a task return value that could not be serialised. The
// engine maps it to TASK_OUTPUT_ERROR.
type OutputError struct {
	// TaskID is the task whose output failed to encode.
	TaskID string

	// Cause is the encoding error.
	Cause error
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	return fmt.Sprintf("could not encode output of task %q: %v", e.TaskID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *OutputError) Unwrap() error {
	return e.Cause
}
