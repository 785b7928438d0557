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

// Package errmap converts host errors into the wire error taxonomy shared
// with the coordinator. Classification rules are applied in a fixed order;
// the first match wins.
package errmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/triggerkit/worker/internal/wire"
	workererrors "github.com/triggerkit/worker/pkg/errors"
)

// Cancellation causes set by the engine. Both are also recognised when they
// arrive wrapped through context.Cause.
var (
	// ErrRunCancelled is the cancel cause for CANCEL messages and
	// termination signals.
	ErrRunCancelled = errors.New("task run cancelled")

	// ErrMaxDurationExceeded is the timeout cause for per-run maxDuration
	// deadlines.
	ErrMaxDurationExceeded = errors.New("max duration exceeded")
)

// Map classifies err into a wire.TaskRunError.
//
// Rule order: cancellation, max-duration deadline, import failure, process
// exit, payload decode, output encode, panics, recognised built-in error
// types, then INTERNAL_ERROR/TASK_EXECUTION_FAILED. Empty messages are
// preserved as empty strings.
func Map(err error) wire.TaskRunError {
	if err == nil {
		return wire.InternalError(wire.ErrorCodeTaskExecutionFailed, "task failed without an error value", "")
	}

	if errors.Is(err, ErrRunCancelled) || errors.Is(err, context.Canceled) {
		return wire.InternalError(wire.ErrorCodeTaskRunCancelled, err.Error(), "")
	}

	if errors.Is(err, ErrMaxDurationExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return wire.InternalError(wire.ErrorCodeMaxDurationExceeded, err.Error(), "")
	}

	var loadErr *workererrors.LoadError
	if errors.As(err, &loadErr) {
		return wire.InternalError(wire.ErrorCodeCouldNotImportTask, err.Error(), "")
	}
	var notFound *workererrors.TaskNotFoundError
	if errors.As(err, &notFound) {
		return wire.InternalError(wire.ErrorCodeCouldNotImportTask, err.Error(), "")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() != 0 {
		return wire.InternalError(wire.ErrorCodeTaskProcessExited, err.Error(), "")
	}

	var payloadErr *workererrors.PayloadError
	if errors.As(err, &payloadErr) {
		return wire.InternalError(wire.ErrorCodeTaskInputError, err.Error(), "")
	}

	var outputErr *workererrors.OutputError
	if errors.As(err, &outputErr) {
		return wire.InternalError(wire.ErrorCodeTaskOutputError, err.Error(), "")
	}

	var panicErr *workererrors.PanicError
	if errors.As(err, &panicErr) {
		return wire.BuiltInError(panicName(panicErr.Value), fmt.Sprint(panicErr.Value), string(panicErr.Stack))
	}

	if name, ok := builtInName(err); ok {
		return wire.BuiltInError(name, err.Error(), "")
	}

	return wire.InternalError(wire.ErrorCodeTaskExecutionFailed, err.Error(), "")
}

// MapValue classifies an arbitrary failure value: errors go through Map,
// anything else becomes a STRING_ERROR.
func MapValue(v any) wire.TaskRunError {
	if err, ok := v.(error); ok {
		return Map(err)
	}
	return wire.StringError(fmt.Sprint(v))
}

// MapPanic classifies a recovered panic value with its captured stack.
func MapPanic(recovered any, stack []byte) wire.TaskRunError {
	return wire.BuiltInError(panicName(recovered), fmt.Sprint(recovered), string(stack))
}

// builtInName reports whether err is a recognised language-level error type
// and returns the name the coordinator should display for it.
func builtInName(err error) (string, bool) {
	var runtimeErr runtime.Error
	if errors.As(err, &runtimeErr) {
		return typeName(runtimeErr), true
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return typeName(syntaxErr), true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeName(typeErr), true
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return typeName(numErr), true
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return typeName(pathErr), true
	}

	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrClosed) {
		return typeName(err), true
	}

	return "", false
}

// panicName picks the wire name for a panic value: the concrete error type
// when the value is an error, otherwise "panic".
func panicName(v any) string {
	if err, ok := v.(error); ok {
		return typeName(err)
	}
	return "panic"
}

// typeName renders the concrete type of err as pkg.Type, without the pointer
// star. Unnamed types fall back to the %T rendering.
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		if pkg := t.PkgPath(); pkg != "" {
			if i := strings.LastIndex(pkg, "/"); i >= 0 {
				pkg = pkg[i+1:]
			}
			return pkg + "." + t.Name()
		}
		return t.Name()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
