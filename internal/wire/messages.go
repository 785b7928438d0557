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

// Package wire defines the versioned message set exchanged between a worker
// process and its coordinator. Every message is a self-describing JSON object
// carrying a "type" discriminator and a "version" tag. Parsers reject unknown
// discriminators; serialisers are total.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the wire protocol version carried by every message.
const Version = "v1"

// Message type discriminators, worker → coordinator.
const (
	TypeTaskRunCompleted   = "TASK_RUN_COMPLETED"
	TypeTaskRunFailedToRun = "TASK_RUN_FAILED_TO_RUN"
	TypeTaskHeartbeat      = "TASK_HEARTBEAT"
	TypeIndexComplete      = "INDEX_COMPLETE"
	TypeIndexTasksComplete = "INDEX_TASKS_COMPLETE"
	TypeLog                = "LOG"
)

// Message type discriminators, coordinator → worker.
const (
	TypeExecuteTaskRun = "EXECUTE_TASK_RUN"
	TypeCancel         = "CANCEL"
	TypeFlush          = "FLUSH"
)

var (
	// ErrInvalidMessage is returned when a message cannot be parsed as JSON.
	ErrInvalidMessage = errors.New("wire: invalid message format")

	// ErrMissingType is returned when a message lacks the type discriminator.
	ErrMissingType = errors.New("wire: missing message type")

	// ErrUnknownMessageType is returned when the type discriminator is not
	// part of the declared union.
	ErrUnknownMessageType = errors.New("wire: unknown message type")
)

// WorkerMessage is implemented by every worker → coordinator message.
type WorkerMessage interface {
	// MessageType returns the wire discriminator for the message.
	MessageType() string

	isWorkerMessage()
}

// CoordinatorMessage is implemented by every coordinator → worker message.
type CoordinatorMessage interface {
	// MessageType returns the wire discriminator for the message.
	MessageType() string

	isCoordinatorMessage()
}

// TaskRunCompleted reports the successful terminal result of a run.
type TaskRunCompleted struct {
	Version    string        `json:"version"`
	Completion SuccessResult `json:"completion"`
}

// NewTaskRunCompleted creates a TASK_RUN_COMPLETED message for the result.
func NewTaskRunCompleted(completion SuccessResult) *TaskRunCompleted {
	return &TaskRunCompleted{Version: Version, Completion: completion}
}

// MessageType returns the wire discriminator for the message.
func (m TaskRunCompleted) MessageType() string { return TypeTaskRunCompleted }

func (TaskRunCompleted) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m TaskRunCompleted) MarshalJSON() ([]byte, error) {
	type alias TaskRunCompleted
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeTaskRunCompleted, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *TaskRunCompleted) Validate() error {
	if !m.Completion.OK {
		return fmt.Errorf("%w: completed message requires ok completion", ErrInvalidMessage)
	}
	if m.Completion.ID == "" {
		return fmt.Errorf("%w: completion missing run id", ErrInvalidMessage)
	}
	return nil
}

// TaskRunFailedToRun reports the failed terminal result of a run.
type TaskRunFailedToRun struct {
	Version    string        `json:"version"`
	Completion FailureResult `json:"completion"`
}

// NewTaskRunFailedToRun creates a TASK_RUN_FAILED_TO_RUN message for the result.
func NewTaskRunFailedToRun(completion FailureResult) *TaskRunFailedToRun {
	return &TaskRunFailedToRun{Version: Version, Completion: completion}
}

// MessageType returns the wire discriminator for the message.
func (m TaskRunFailedToRun) MessageType() string { return TypeTaskRunFailedToRun }

func (TaskRunFailedToRun) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m TaskRunFailedToRun) MarshalJSON() ([]byte, error) {
	type alias TaskRunFailedToRun
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeTaskRunFailedToRun, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *TaskRunFailedToRun) Validate() error {
	if m.Completion.OK {
		return fmt.Errorf("%w: failed message requires failed completion", ErrInvalidMessage)
	}
	if m.Completion.ID == "" {
		return fmt.Errorf("%w: completion missing run id", ErrInvalidMessage)
	}
	return m.Completion.Error.Validate()
}

// TaskHeartbeat signals liveness of an in-flight run.
type TaskHeartbeat struct {
	Version string `json:"version"`
	ID      string `json:"id"`
}

// NewTaskHeartbeat creates a TASK_HEARTBEAT message for the run id.
func NewTaskHeartbeat(runID string) *TaskHeartbeat {
	return &TaskHeartbeat{Version: Version, ID: runID}
}

// MessageType returns the wire discriminator for the message.
func (m TaskHeartbeat) MessageType() string { return TypeTaskHeartbeat }

func (TaskHeartbeat) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m TaskHeartbeat) MarshalJSON() ([]byte, error) {
	type alias TaskHeartbeat
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeTaskHeartbeat, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *TaskHeartbeat) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: heartbeat missing run id", ErrInvalidMessage)
	}
	return nil
}

// IndexComplete carries the full task catalog produced by an indexing pass.
type IndexComplete struct {
	Version string       `json:"version"`
	Payload IndexPayload `json:"payload"`
}

// IndexPayload is the body of an INDEX_COMPLETE message.
type IndexPayload struct {
	Manifest     IndexManifest `json:"manifest"`
	ImportErrors []ImportError `json:"importErrors"`
}

// IndexManifest describes the indexed source tree and its tasks.
type IndexManifest struct {
	ConfigPath           string         `json:"configPath,omitempty"`
	Tasks                []TaskResource `json:"tasks"`
	IncompatiblePackages []string       `json:"incompatiblePackages"`
	WorkerEntryPoint     string         `json:"workerEntryPoint,omitempty"`
	Runtime              string         `json:"runtime,omitempty"`
}

// ImportError records a task file that could not be loaded during indexing.
type ImportError struct {
	FilePath string `json:"filePath"`
	Error    string `json:"error"`
}

// NewIndexComplete creates an INDEX_COMPLETE message for the payload.
func NewIndexComplete(payload IndexPayload) *IndexComplete {
	if payload.Manifest.Tasks == nil {
		payload.Manifest.Tasks = []TaskResource{}
	}
	if payload.Manifest.IncompatiblePackages == nil {
		payload.Manifest.IncompatiblePackages = []string{}
	}
	if payload.ImportErrors == nil {
		payload.ImportErrors = []ImportError{}
	}
	return &IndexComplete{Version: Version, Payload: payload}
}

// MessageType returns the wire discriminator for the message.
func (m IndexComplete) MessageType() string { return TypeIndexComplete }

func (IndexComplete) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m IndexComplete) MarshalJSON() ([]byte, error) {
	type alias IndexComplete
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeIndexComplete, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *IndexComplete) Validate() error { return nil }

// IndexTasksComplete is the streaming-transport variant of the catalog
// message, carrying a flat resource list instead of a manifest envelope.
type IndexTasksComplete struct {
	Version string         `json:"version"`
	Tasks   []TaskResource `json:"tasks"`
}

// NewIndexTasksComplete creates an INDEX_TASKS_COMPLETE message.
func NewIndexTasksComplete(tasks []TaskResource) *IndexTasksComplete {
	if tasks == nil {
		tasks = []TaskResource{}
	}
	return &IndexTasksComplete{Version: Version, Tasks: tasks}
}

// MessageType returns the wire discriminator for the message.
func (m IndexTasksComplete) MessageType() string { return TypeIndexTasksComplete }

func (IndexTasksComplete) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m IndexTasksComplete) MarshalJSON() ([]byte, error) {
	type alias IndexTasksComplete
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeIndexTasksComplete, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *IndexTasksComplete) Validate() error { return nil }

// Log forwards a structured log record to the coordinator.
type Log struct {
	Version    string         `json:"version"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Logger     string         `json:"logger,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Task       *LogTask       `json:"task,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Exception  string         `json:"exception,omitempty"`
}

// LogTask identifies the run a log record was emitted from.
type LogTask struct {
	ID            string `json:"id"`
	RunID         string `json:"runId"`
	AttemptID     string `json:"attemptId,omitempty"`
	AttemptNumber int    `json:"attemptNumber,omitempty"`
}

// MessageType returns the wire discriminator for the message.
func (m Log) MessageType() string { return TypeLog }

func (Log) isWorkerMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m Log) MarshalJSON() ([]byte, error) {
	type alias Log
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeLog, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *Log) Validate() error {
	if m.Level == "" {
		return fmt.Errorf("%w: log missing level", ErrInvalidMessage)
	}
	return nil
}

// ExecuteTaskRun instructs the worker to execute one task attempt.
type ExecuteTaskRun struct {
	Version   string           `json:"version"`
	Execution TaskRunExecution `json:"execution"`
}

// NewExecuteTaskRun creates an EXECUTE_TASK_RUN message for the execution.
func NewExecuteTaskRun(execution TaskRunExecution) *ExecuteTaskRun {
	return &ExecuteTaskRun{Version: Version, Execution: execution}
}

// MessageType returns the wire discriminator for the message.
func (m ExecuteTaskRun) MessageType() string { return TypeExecuteTaskRun }

func (ExecuteTaskRun) isCoordinatorMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m ExecuteTaskRun) MarshalJSON() ([]byte, error) {
	type alias ExecuteTaskRun
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeExecuteTaskRun, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *ExecuteTaskRun) Validate() error {
	return m.Execution.Validate()
}

// Cancel requests cooperative cancellation of the in-flight run. The optional
// timeout bounds how long the coordinator will wait before force-killing the
// worker process.
type Cancel struct {
	Version     string `json:"version"`
	TimeoutInMs int64  `json:"timeoutInMs,omitempty"`
}

// MessageType returns the wire discriminator for the message.
func (m Cancel) MessageType() string { return TypeCancel }

func (Cancel) isCoordinatorMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m Cancel) MarshalJSON() ([]byte, error) {
	type alias Cancel
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeCancel, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *Cancel) Validate() error {
	if m.TimeoutInMs < 0 {
		return fmt.Errorf("%w: negative cancel timeout", ErrInvalidMessage)
	}
	return nil
}

// Flush requests that the worker drain buffered output within the optional
// timeout.
type Flush struct {
	Version     string `json:"version"`
	TimeoutInMs int64  `json:"timeoutInMs,omitempty"`
}

// MessageType returns the wire discriminator for the message.
func (m Flush) MessageType() string { return TypeFlush }

func (Flush) isCoordinatorMessage() {}

// MarshalJSON emits the message with its type discriminator first.
func (m Flush) MarshalJSON() ([]byte, error) {
	type alias Flush
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: TypeFlush, alias: alias(m)})
}

// Validate checks that the message is well-formed.
func (m *Flush) Validate() error {
	if m.TimeoutInMs < 0 {
		return fmt.Errorf("%w: negative flush timeout", ErrInvalidMessage)
	}
	return nil
}

// Marshal encodes a message to its JSON wire form.
func Marshal(m interface{ MessageType() string }) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// messageType extracts the discriminator tag from raw JSON.
func messageType(data []byte) (string, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if head.Type == nil || *head.Type == "" {
		return "", ErrMissingType
	}
	return *head.Type, nil
}

// validator is satisfied by every concrete message type.
type validator interface {
	Validate() error
}

// decode unmarshals raw JSON into the message and validates it.
func decode(data []byte, msg validator) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg.Validate()
}

// ParseWorkerMessage parses a worker → coordinator message, dispatching on
// the type discriminator. Unknown discriminators fail with
// ErrUnknownMessageType.
func ParseWorkerMessage(data []byte) (WorkerMessage, error) {
	typ, err := messageType(data)
	if err != nil {
		return nil, err
	}

	var msg WorkerMessage
	switch typ {
	case TypeTaskRunCompleted:
		msg = &TaskRunCompleted{}
	case TypeTaskRunFailedToRun:
		msg = &TaskRunFailedToRun{}
	case TypeTaskHeartbeat:
		msg = &TaskHeartbeat{}
	case TypeIndexComplete:
		msg = &IndexComplete{}
	case TypeIndexTasksComplete:
		msg = &IndexTasksComplete{}
	case TypeLog:
		msg = &Log{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}

	if err := decode(data, msg.(validator)); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseCoordinatorMessage parses a coordinator → worker message, dispatching
// on the type discriminator. Unknown discriminators fail with
// ErrUnknownMessageType.
func ParseCoordinatorMessage(data []byte) (CoordinatorMessage, error) {
	typ, err := messageType(data)
	if err != nil {
		return nil, err
	}

	var msg CoordinatorMessage
	switch typ {
	case TypeExecuteTaskRun:
		msg = &ExecuteTaskRun{}
	case TypeCancel:
		msg = &Cancel{}
	case TypeFlush:
		msg = &Flush{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}

	if err := decode(data, msg.(validator)); err != nil {
		return nil, err
	}
	return msg, nil
}
