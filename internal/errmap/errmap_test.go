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

package errmap

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerkit/worker/internal/wire"
	workererrors "github.com/triggerkit/worker/pkg/errors"
)

func TestMapInternalCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code wire.ErrorCode
	}{
		{
			name: "run cancelled cause",
			err:  ErrRunCancelled,
			code: wire.ErrorCodeTaskRunCancelled,
		},
		{
			name: "wrapped cancellation",
			err:  fmt.Errorf("attempt aborted: %w", ErrRunCancelled),
			code: wire.ErrorCodeTaskRunCancelled,
		},
		{
			name: "context cancelled",
			err:  context.Canceled,
			code: wire.ErrorCodeTaskRunCancelled,
		},
		{
			name: "max duration cause",
			err:  ErrMaxDurationExceeded,
			code: wire.ErrorCodeMaxDurationExceeded,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			code: wire.ErrorCodeMaxDurationExceeded,
		},
		{
			name: "load failure",
			err:  &workererrors.LoadError{FilePath: "/a.so", Cause: workererrors.New("no such file")},
			code: wire.ErrorCodeCouldNotImportTask,
		},
		{
			name: "task not found",
			err:  &workererrors.TaskNotFoundError{ID: "missing"},
			code: wire.ErrorCodeCouldNotImportTask,
		},
		{
			name: "payload error",
			err:  &workererrors.PayloadError{TaskID: "t", Cause: workererrors.New("bad json")},
			code: wire.ErrorCodeTaskInputError,
		},
		{
			name: "output error",
			err:  &workererrors.OutputError{TaskID: "t", Cause: workererrors.New("chan int")},
			code: wire.ErrorCodeTaskOutputError,
		},
		{
			name: "unclassified",
			err:  workererrors.New("something odd"),
			code: wire.ErrorCodeTaskExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := Map(tt.err)
			require.Equal(t, wire.ErrorKindInternal, mapped.Kind)
			assert.Equal(t, tt.code, mapped.Code)
			assert.NotEmpty(t, mapped.Message)
		})
	}
}

func TestMapBuiltIn(t *testing.T) {
	var syntaxTarget struct{ Name string }
	err := json.Unmarshal([]byte(`{"name":`), &syntaxTarget)
	require.Error(t, err)

	mapped := Map(err)
	require.Equal(t, wire.ErrorKindBuiltIn, mapped.Kind)
	assert.Equal(t, "json.SyntaxError", mapped.Name)
	assert.NotEmpty(t, mapped.Message)
}

func TestMapRuntimeError(t *testing.T) {
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		var xs []int
		_ = xs[3]
	}()
	require.NotNil(t, recovered)

	err := workererrors.NewPanicError(recovered)
	mapped := Map(err)
	require.Equal(t, wire.ErrorKindBuiltIn, mapped.Kind)
	assert.Contains(t, mapped.Name, "runtime.")
	assert.NotEmpty(t, mapped.StackTrace, "panic stack must reach the wire")
}

func TestMapPanicNonError(t *testing.T) {
	mapped := MapPanic("boom", []byte("goroutine 1 [running]:\nmain.main()"))
	require.Equal(t, wire.ErrorKindBuiltIn, mapped.Kind)
	assert.Equal(t, "panic", mapped.Name)
	assert.Equal(t, "boom", mapped.Message)
	assert.Contains(t, mapped.StackTrace, "goroutine 1")
}

func TestMapValueNonError(t *testing.T) {
	mapped := MapValue(42)
	require.Equal(t, wire.ErrorKindString, mapped.Kind)
	assert.Equal(t, "42", mapped.Raw)
}

func TestMapPreservesEmptyMessage(t *testing.T) {
	mapped := Map(workererrors.New(""))
	require.Equal(t, wire.ErrorKindInternal, mapped.Kind)
	assert.Equal(t, "", mapped.Message, "empty messages must survive, never be dropped")

	data, err := json.Marshal(wire.BuiltInError("ValueError", "", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"BUILT_IN_ERROR","name":"ValueError","message":"","stackTrace":""}`, string(data))
}

func TestMapOrderCancellationWinsOverWrapping(t *testing.T) {
	// A cancellation wrapped inside a load error still classifies as
	// cancellation: rule one is checked first.
	err := &workererrors.LoadError{FilePath: "/a.so", Cause: ErrRunCancelled}
	mapped := Map(err)
	assert.Equal(t, wire.ErrorCodeTaskRunCancelled, mapped.Code)
}
