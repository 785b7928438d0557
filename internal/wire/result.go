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

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OutputTypeJSON is the default media type for task outputs.
const OutputTypeJSON = "application/json"

// TaskRunUsage accounts for the resources one attempt consumed.
type TaskRunUsage struct {
	DurationMs int64 `json:"durationMs"`
}

// TaskRunRetry schedules the next attempt after a failure. Timestamp is epoch
// milliseconds of the scheduled attempt; Delay is the wait in milliseconds.
type TaskRunRetry struct {
	Timestamp int64 `json:"timestamp"`
	Delay     int64 `json:"delay"`
}

// SuccessResult is the terminal result of a successful attempt.
type SuccessResult struct {
	OK             bool          `json:"ok"`
	ID             string        `json:"id"`
	Output         string        `json:"output,omitempty"`
	OutputType     string        `json:"outputType"`
	Usage          *TaskRunUsage `json:"usage,omitempty"`
	TaskIdentifier string        `json:"taskIdentifier,omitempty"`
}

// NewSuccessResult creates a success result with the default output type.
func NewSuccessResult(runID, output string) SuccessResult {
	return SuccessResult{
		OK:         true,
		ID:         runID,
		Output:     output,
		OutputType: OutputTypeJSON,
	}
}

// FailureResult is the terminal result of a failed attempt.
type FailureResult struct {
	OK              bool          `json:"ok"`
	ID              string        `json:"id"`
	Error           TaskRunError  `json:"error"`
	Retry           *TaskRunRetry `json:"retry,omitempty"`
	SkippedRetrying bool          `json:"skippedRetrying,omitempty"`
	Usage           *TaskRunUsage `json:"usage,omitempty"`
	TaskIdentifier  string        `json:"taskIdentifier,omitempty"`
}

// NewFailureResult creates a failure result carrying the classified error.
func NewFailureResult(runID string, taskErr TaskRunError) FailureResult {
	return FailureResult{
		OK:    false,
		ID:    runID,
		Error: taskErr,
	}
}

// ErrorKind discriminates the TaskRunError union.
type ErrorKind string

// TaskRunError variants.
const (
	ErrorKindBuiltIn  ErrorKind = "BUILT_IN_ERROR"
	ErrorKindInternal ErrorKind = "INTERNAL_ERROR"
	ErrorKindString   ErrorKind = "STRING_ERROR"
)

// ErrorCode categorises internal errors. The set is closed; the coordinator
// switches on it.
type ErrorCode string

// Internal error codes.
const (
	ErrorCodeCouldNotImportTask    ErrorCode = "COULD_NOT_IMPORT_TASK"
	ErrorCodeTaskExecutionFailed   ErrorCode = "TASK_EXECUTION_FAILED"
	ErrorCodeTaskRunCancelled      ErrorCode = "TASK_RUN_CANCELLED"
	ErrorCodeMaxDurationExceeded   ErrorCode = "MAX_DURATION_EXCEEDED"
	ErrorCodeTaskProcessExited     ErrorCode = "TASK_PROCESS_EXITED_WITH_NON_ZERO_CODE"
	ErrorCodeTaskInputError        ErrorCode = "TASK_INPUT_ERROR"
	ErrorCodeTaskOutputError       ErrorCode = "TASK_OUTPUT_ERROR"
	ErrorCodeInternalError         ErrorCode = "INTERNAL_ERROR"
)

// Valid reports whether the code is part of the closed enum.
func (c ErrorCode) Valid() bool {
	switch c {
	case ErrorCodeCouldNotImportTask, ErrorCodeTaskExecutionFailed,
		ErrorCodeTaskRunCancelled, ErrorCodeMaxDurationExceeded,
		ErrorCodeTaskProcessExited, ErrorCodeTaskInputError,
		ErrorCodeTaskOutputError, ErrorCodeInternalError:
		return true
	}
	return false
}

// ErrUnknownErrorKind is returned when an error payload carries a type tag
// outside the declared union.
var ErrUnknownErrorKind = errors.New("wire: unknown error type")

// TaskRunError is the three-variant error union shared with the coordinator.
// Exactly one variant is populated, selected by Kind:
//
//   - BUILT_IN_ERROR: Name, Message, StackTrace
//   - INTERNAL_ERROR: Code, Message, StackTrace
//   - STRING_ERROR:   Raw
type TaskRunError struct {
	Kind       ErrorKind
	Name       string
	Message    string
	StackTrace string
	Code       ErrorCode
	Raw        string
}

// BuiltInError creates a BUILT_IN_ERROR for a recognised language-level error.
// Empty messages are preserved, never dropped.
func BuiltInError(name, message, stackTrace string) TaskRunError {
	return TaskRunError{
		Kind:       ErrorKindBuiltIn,
		Name:       name,
		Message:    message,
		StackTrace: stackTrace,
	}
}

// InternalError creates an INTERNAL_ERROR with the given code.
func InternalError(code ErrorCode, message, stackTrace string) TaskRunError {
	return TaskRunError{
		Kind:       ErrorKindInternal,
		Code:       code,
		Message:    message,
		StackTrace: stackTrace,
	}
}

// StringError creates a STRING_ERROR fallback.
func StringError(raw string) TaskRunError {
	return TaskRunError{Kind: ErrorKindString, Raw: raw}
}

// Validate checks that the union is well-formed.
func (e TaskRunError) Validate() error {
	switch e.Kind {
	case ErrorKindBuiltIn, ErrorKindString:
		return nil
	case ErrorKindInternal:
		if !e.Code.Valid() {
			return fmt.Errorf("%w: internal error code %q", ErrInvalidMessage, e.Code)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownErrorKind, e.Kind)
	}
}

// builtInErrorJSON preserves empty name/message/stackTrace fields on the wire.
type builtInErrorJSON struct {
	Type       ErrorKind `json:"type"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace"`
}

type internalErrorJSON struct {
	Type       ErrorKind `json:"type"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message,omitempty"`
	StackTrace string    `json:"stackTrace,omitempty"`
}

type stringErrorJSON struct {
	Type ErrorKind `json:"type"`
	Raw  string    `json:"raw"`
}

// MarshalJSON emits the variant selected by Kind. Unrecognised kinds degrade
// to a STRING_ERROR so serialisation stays total.
func (e TaskRunError) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ErrorKindBuiltIn:
		return json.Marshal(builtInErrorJSON{
			Type:       ErrorKindBuiltIn,
			Name:       e.Name,
			Message:    e.Message,
			StackTrace: e.StackTrace,
		})
	case ErrorKindInternal:
		return json.Marshal(internalErrorJSON{
			Type:       ErrorKindInternal,
			Code:       e.Code,
			Message:    e.Message,
			StackTrace: e.StackTrace,
		})
	default:
		return json.Marshal(stringErrorJSON{
			Type: ErrorKindString,
			Raw:  e.Raw,
		})
	}
}

// UnmarshalJSON parses the variant selected by the embedded type tag and
// rejects tags outside the union.
func (e *TaskRunError) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Type       ErrorKind `json:"type"`
		Name       string    `json:"name"`
		Message    string    `json:"message"`
		StackTrace string    `json:"stackTrace"`
		Code       ErrorCode `json:"code"`
		Raw        string    `json:"raw"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch shadow.Type {
	case ErrorKindBuiltIn:
		*e = BuiltInError(shadow.Name, shadow.Message, shadow.StackTrace)
	case ErrorKindInternal:
		*e = InternalError(shadow.Code, shadow.Message, shadow.StackTrace)
	case ErrorKindString:
		*e = StringError(shadow.Raw)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownErrorKind, shadow.Type)
	}
	return nil
}

// String renders the error for diagnostics.
func (e TaskRunError) String() string {
	switch e.Kind {
	case ErrorKindBuiltIn:
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	case ErrorKindInternal:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Code, e.Message)
		}
		return string(e.Code)
	default:
		return e.Raw
	}
}
