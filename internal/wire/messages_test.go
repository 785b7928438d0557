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
	"testing"
)

func TestParseCoordinatorMessageExecute(t *testing.T) {
	line := `{"type":"EXECUTE_TASK_RUN","version":"v1","execution":{"task":{"id":"hello","filePath":"/t.py"},"run":{"id":"run_1","payload":"{\"name\":\"World\"}","payloadType":"application/json","tags":[],"isTest":false},"attempt":{"id":"a1","number":1,"startedAt":"2024-01-01T00:00:00Z"}}}`

	msg, err := ParseCoordinatorMessage([]byte(line))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	exec, ok := msg.(*ExecuteTaskRun)
	if !ok {
		t.Fatalf("expected *ExecuteTaskRun, got %T", msg)
	}
	if exec.Version != "v1" {
		t.Errorf("expected version v1, got %q", exec.Version)
	}
	if exec.Execution.Task.ID != "hello" {
		t.Errorf("expected task id hello, got %q", exec.Execution.Task.ID)
	}
	if exec.Execution.Run.Payload != `{"name":"World"}` {
		t.Errorf("unexpected payload %q", exec.Execution.Run.Payload)
	}
	if exec.Execution.Attempt.Number != 1 {
		t.Errorf("expected attempt number 1, got %d", exec.Execution.Attempt.Number)
	}
}

func TestParseCoordinatorMessageCancel(t *testing.T) {
	msg, err := ParseCoordinatorMessage([]byte(`{"type": "CANCEL", "version": "v1"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := msg.(*Cancel); !ok {
		t.Fatalf("expected *Cancel, got %T", msg)
	}
	if msg.MessageType() != TypeCancel {
		t.Errorf("expected type %s, got %s", TypeCancel, msg.MessageType())
	}
}

func TestParseCoordinatorMessageFlushTimeout(t *testing.T) {
	msg, err := ParseCoordinatorMessage([]byte(`{"type":"FLUSH","version":"v1","timeoutInMs":2500}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	flush := msg.(*Flush)
	if flush.TimeoutInMs != 2500 {
		t.Errorf("expected timeout 2500, got %d", flush.TimeoutInMs)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "malformed json",
			input:   `{"type": "CANCEL"`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "missing type",
			input:   `{"version":"v1"}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "empty type",
			input:   `{"type":"","version":"v1"}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "unknown type",
			input:   `{"type":"NOT_A_MESSAGE","version":"v1"}`,
			wantErr: ErrUnknownMessageType,
		},
		{
			name:    "validation failure",
			input:   `{"type":"EXECUTE_TASK_RUN","version":"v1","execution":{"task":{"id":""},"run":{"id":"r"},"attempt":{"number":1}}}`,
			wantErr: ErrInvalidMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCoordinatorMessage([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseIgnoresUnknownOptionalFields(t *testing.T) {
	line := `{"type":"CANCEL","version":"v1","futureField":{"nested":true}}`
	if _, err := ParseCoordinatorMessage([]byte(line)); err != nil {
		t.Fatalf("unknown optional field should be ignored, got %v", err)
	}
}

func TestHeartbeatWireFormat(t *testing.T) {
	data, err := json.Marshal(NewTaskHeartbeat("run_0"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `{"type":"TASK_HEARTBEAT","version":"v1","id":"run_0"}`
	if string(data) != want {
		t.Errorf("wire format mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestMarshalDefaultsVersion(t *testing.T) {
	data, err := json.Marshal(&TaskHeartbeat{ID: "run_9"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["version"] != "v1" {
		t.Errorf("expected version v1, got %v", decoded["version"])
	}
}

func TestParseWorkerMessageCompleted(t *testing.T) {
	completion := NewSuccessResult("run_1", `{"greeting":"Hello World"}`)
	completion.Usage = &TaskRunUsage{DurationMs: 42}

	data, err := Marshal(NewTaskRunCompleted(completion))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	msg, err := ParseWorkerMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	completed, ok := msg.(*TaskRunCompleted)
	if !ok {
		t.Fatalf("expected *TaskRunCompleted, got %T", msg)
	}
	if !completed.Completion.OK {
		t.Error("expected ok completion")
	}
	if completed.Completion.ID != "run_1" {
		t.Errorf("expected run_1, got %q", completed.Completion.ID)
	}
	if completed.Completion.OutputType != OutputTypeJSON {
		t.Errorf("expected %s, got %q", OutputTypeJSON, completed.Completion.OutputType)
	}

	var output map[string]string
	if err := json.Unmarshal([]byte(completed.Completion.Output), &output); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if output["greeting"] != "Hello World" {
		t.Errorf("unexpected output %v", output)
	}
	if completed.Completion.Usage.DurationMs != 42 {
		t.Errorf("expected durationMs 42, got %d", completed.Completion.Usage.DurationMs)
	}
}

func TestParseWorkerMessageRejectsFailedCompletionOnCompleted(t *testing.T) {
	line := `{"type":"TASK_RUN_COMPLETED","version":"v1","completion":{"ok":false,"id":"run_1","error":{"type":"STRING_ERROR","raw":"x"}}}`
	if _, err := ParseWorkerMessage([]byte(line)); err == nil {
		t.Fatal("expected validation error for ok=false on TASK_RUN_COMPLETED")
	}
}

func TestIndexCompleteDefaults(t *testing.T) {
	msg := NewIndexComplete(IndexPayload{})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Payload struct {
			Manifest struct {
				Tasks                []TaskResource `json:"tasks"`
				IncompatiblePackages []string       `json:"incompatiblePackages"`
			} `json:"manifest"`
			ImportErrors []ImportError `json:"importErrors"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Payload.Manifest.Tasks == nil {
		t.Error("tasks should serialise as [], not null")
	}
	if decoded.Payload.Manifest.IncompatiblePackages == nil {
		t.Error("incompatiblePackages should serialise as [], not null")
	}
	if decoded.Payload.ImportErrors == nil {
		t.Error("importErrors should serialise as [], not null")
	}
}

func TestLogMessageRoundTrip(t *testing.T) {
	msg := &Log{
		Level:     "info",
		Message:   "task started",
		Logger:    "worker",
		Timestamp: "2024-01-01T00:00:00Z",
		Task: &LogTask{
			ID:            "hello",
			RunID:         "run_1",
			AttemptID:     "a1",
			AttemptNumber: 1,
		},
		Attributes: map[string]any{"key": "value"},
	}

	data, err := Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	parsed, err := ParseWorkerMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	log, ok := parsed.(*Log)
	if !ok {
		t.Fatalf("expected *Log, got %T", parsed)
	}
	if log.Level != "info" || log.Message != "task started" {
		t.Errorf("unexpected log %+v", log)
	}
	if log.Task == nil || log.Task.RunID != "run_1" {
		t.Errorf("expected task run_1, got %+v", log.Task)
	}
}

func TestEnvironmentTypeValidation(t *testing.T) {
	exec := TaskRunExecution{
		Task:    TaskInfo{ID: "t", FilePath: "/t"},
		Run:     RunInfo{ID: "r", Payload: "{}", PayloadType: OutputTypeJSON},
		Attempt: AttemptInfo{ID: "a", Number: 1, StartedAt: "2024-01-01T00:00:00Z"},
		Environment: &EnvironmentInfo{
			ID:   "env_1",
			Slug: "prod",
			Type: "SOMETHING_ELSE",
		},
	}
	if err := exec.Validate(); err == nil {
		t.Fatal("expected validation error for unknown environment type")
	}

	exec.Environment.Type = EnvironmentTypeProduction
	if err := exec.Validate(); err != nil {
		t.Fatalf("expected valid execution, got %v", err)
	}
}
