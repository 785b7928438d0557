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

package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerkit/worker/internal/wire"
)

func TestFrameFromSuccessMessage(t *testing.T) {
	result := wire.NewSuccessResult("run_1", `{"greeting":"hi"}`)
	result.Usage = &wire.TaskRunUsage{DurationMs: 120}
	result.TaskIdentifier = "hello"

	frame, err := frameFromMessage(wire.NewTaskRunCompleted(result))
	require.NoError(t, err)
	require.NotNil(t, frame.TaskRunCompleted)

	completion := frame.TaskRunCompleted.Completion
	require.NotNil(t, completion)
	assert.Equal(t, "run_1", completion.ID)
	assert.Equal(t, `{"greeting":"hi"}`, completion.Output)
	assert.Equal(t, wire.OutputTypeJSON, completion.OutputType)
	assert.Equal(t, "hello", completion.TaskIdentifier)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, int64(120), completion.Usage.DurationMs)
}

func TestFrameErrorVariants(t *testing.T) {
	tests := []struct {
		name  string
		err   wire.TaskRunError
		check func(t *testing.T, frame *errorFrame)
	}{
		{
			name: "built-in",
			err:  wire.BuiltInError("json.SyntaxError", "unexpected end of input", "stack"),
			check: func(t *testing.T, frame *errorFrame) {
				require.NotNil(t, frame.BuiltInError)
				assert.Equal(t, "json.SyntaxError", frame.BuiltInError.Name)
				assert.Equal(t, "stack", frame.BuiltInError.StackTrace)
				assert.Nil(t, frame.InternalError)
				assert.Nil(t, frame.StringError)
			},
		},
		{
			name: "internal",
			err:  wire.InternalError(wire.ErrorCodeMaxDurationExceeded, "exceeded 30s", ""),
			check: func(t *testing.T, frame *errorFrame) {
				require.NotNil(t, frame.InternalError)
				assert.Equal(t, string(wire.ErrorCodeMaxDurationExceeded), frame.InternalError.Code)
				assert.Nil(t, frame.BuiltInError)
				assert.Nil(t, frame.StringError)
			},
		},
		{
			name: "string",
			err:  wire.StringError("42"),
			check: func(t *testing.T, frame *errorFrame) {
				require.NotNil(t, frame.StringError)
				assert.Equal(t, "42", frame.StringError.Raw)
				assert.Nil(t, frame.BuiltInError)
				assert.Nil(t, frame.InternalError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, errorFrameFrom(tt.err))
		})
	}
}

func TestIndexCompleteFlattensToTaskList(t *testing.T) {
	msg := wire.NewIndexComplete(wire.IndexPayload{
		Manifest: wire.IndexManifest{
			Tasks: []wire.TaskResource{
				{ID: "hello", FilePath: "tasks/hello.go", ExportName: "hello"},
				{ID: "resize", FilePath: "tasks/resize.go", ExportName: "resize", MaxDuration: 30},
			},
		},
	})

	frame, err := frameFromMessage(msg)
	require.NoError(t, err)
	require.NotNil(t, frame.IndexTasksComplete, "manifest envelope flattens for the stream")
	assert.Equal(t, wire.TypeIndexTasksComplete, frame.IndexTasksComplete.Type)
	require.Len(t, frame.IndexTasksComplete.Tasks, 2)
	assert.Equal(t, "resize", frame.IndexTasksComplete.Tasks[1].ID)
	assert.Equal(t, 30, frame.IndexTasksComplete.Tasks[1].MaxDuration)
}

func TestMessageFromFrameDefaults(t *testing.T) {
	msg, err := messageFromFrame(&coordinatorFrame{
		Flush: &controlFrame{Type: wire.TypeFlush},
	})
	require.NoError(t, err)
	flush := msg.(*wire.Flush)
	assert.Equal(t, wire.Version, flush.Version, "missing version defaults to the current one")
	assert.Zero(t, flush.TimeoutInMs)
}

func TestMessageFromEmptyFrame(t *testing.T) {
	_, err := messageFromFrame(&coordinatorFrame{})
	require.ErrorIs(t, err, wire.ErrMissingType)
}

func TestMessageFromInvalidExecution(t *testing.T) {
	_, err := messageFromFrame(&coordinatorFrame{
		ExecuteTaskRun: &executeFrame{
			Type:    wire.TypeExecuteTaskRun,
			Version: wire.Version,
			Execution: executionFrame{
				Task: taskFrame{ID: "hello"},
			},
		},
	})
	require.ErrorIs(t, err, wire.ErrInvalidMessage)
}
