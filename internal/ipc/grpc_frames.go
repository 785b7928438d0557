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
	"fmt"

	"github.com/triggerkit/worker/internal/wire"
)

// Frame structs mirror the coordinator's protobuf shapes: snake_case fields,
// oneofs as pointer fields with exactly one populated. The JSON codec carries
// them over the stream, which keeps the worker free of generated code.

type workerFrame struct {
	TaskRunCompleted   *completionFrame  `json:"task_run_completed,omitempty"`
	TaskRunFailed      *completionFrame  `json:"task_run_failed,omitempty"`
	TaskHeartbeat      *heartbeatFrame   `json:"task_heartbeat,omitempty"`
	IndexTasksComplete *indexTasksFrame  `json:"index_tasks_complete,omitempty"`
	Log                *logFrame         `json:"log,omitempty"`
}

type completionFrame struct {
	Type       string       `json:"type"`
	Version    string       `json:"version"`
	Completion *resultFrame `json:"completion,omitempty"`
}

type resultFrame struct {
	ID             string      `json:"id"`
	Output         string      `json:"output,omitempty"`
	OutputType     string      `json:"output_type,omitempty"`
	Error          *errorFrame `json:"error,omitempty"`
	Usage          *usageFrame `json:"usage,omitempty"`
	TaskIdentifier string      `json:"task_identifier,omitempty"`
}

type usageFrame struct {
	DurationMs int64 `json:"duration_ms"`
}

// errorFrame is the oneof projection of the TaskRunError union.
type errorFrame struct {
	BuiltInError  *builtInErrorFrame  `json:"built_in_error,omitempty"`
	InternalError *internalErrorFrame `json:"internal_error,omitempty"`
	StringError   *stringErrorFrame   `json:"string_error,omitempty"`
}

type builtInErrorFrame struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace"`
}

type internalErrorFrame struct {
	Code       string `json:"code"`
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

type stringErrorFrame struct {
	Raw string `json:"raw"`
}

type heartbeatFrame struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	ID      string `json:"id"`
}

type indexTasksFrame struct {
	Type    string              `json:"type"`
	Version string              `json:"version"`
	Tasks   []taskResourceFrame `json:"tasks"`
}

type taskResourceFrame struct {
	ID          string `json:"id"`
	FilePath    string `json:"file_path,omitempty"`
	EntryPoint  string `json:"entry_point,omitempty"`
	ExportName  string `json:"export_name,omitempty"`
	Description string `json:"description,omitempty"`
	MaxDuration int    `json:"max_duration,omitempty"`
}

type logFrame struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Logger    string `json:"logger,omitempty"`
	Timestamp string `json:"timestamp"`
	Exception string `json:"exception,omitempty"`
}

type coordinatorFrame struct {
	ExecuteTaskRun *executeFrame `json:"execute_task_run,omitempty"`
	Cancel         *controlFrame `json:"cancel,omitempty"`
	Flush          *controlFrame `json:"flush,omitempty"`
}

type executeFrame struct {
	Type      string         `json:"type"`
	Version   string         `json:"version"`
	Execution executionFrame `json:"execution"`
}

type controlFrame struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	TimeoutInMs int64  `json:"timeout_in_ms,omitempty"`
}

type executionFrame struct {
	Task         taskFrame         `json:"task"`
	Run          runFrame          `json:"run"`
	Attempt      attemptFrame      `json:"attempt"`
	Batch        *batchFrame       `json:"batch,omitempty"`
	Queue        *queueFrame       `json:"queue,omitempty"`
	Organization *orgFrame         `json:"organization,omitempty"`
	Project      *projectFrame     `json:"project,omitempty"`
	Environment  *environmentFrame `json:"environment,omitempty"`
	Deployment   *deploymentFrame  `json:"deployment,omitempty"`
}

type taskFrame struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
}

type runFrame struct {
	ID          string   `json:"id"`
	Payload     string   `json:"payload"`
	PayloadType string   `json:"payload_type"`
	Tags        []string `json:"tags"`
	IsTest      bool     `json:"is_test"`
}

type attemptFrame struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	StartedAt string `json:"started_at"`
}

type batchFrame struct {
	ID string `json:"id"`
}

type queueFrame struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type orgFrame struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type projectFrame struct {
	ID   string `json:"id"`
	Ref  string `json:"ref"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type environmentFrame struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Type string `json:"type"`
}

type deploymentFrame struct {
	ID        string `json:"id"`
	ShortCode string `json:"short_code"`
	Version   string `json:"version"`
}

// frameFromMessage projects a worker message onto its frame. The
// manifest-shaped INDEX_COMPLETE flattens to the index_tasks_complete frame;
// the stream cannot represent the manifest envelope.
func frameFromMessage(msg wire.WorkerMessage) (*workerFrame, error) {
	switch m := msg.(type) {
	case *wire.TaskRunCompleted:
		return &workerFrame{TaskRunCompleted: &completionFrame{
			Type:    m.MessageType(),
			Version: m.Version,
			Completion: &resultFrame{
				ID:             m.Completion.ID,
				Output:         m.Completion.Output,
				OutputType:     m.Completion.OutputType,
				Usage:          usageFrameFrom(m.Completion.Usage),
				TaskIdentifier: m.Completion.TaskIdentifier,
			},
		}}, nil

	case *wire.TaskRunFailedToRun:
		return &workerFrame{TaskRunFailed: &completionFrame{
			Type:    m.MessageType(),
			Version: m.Version,
			Completion: &resultFrame{
				ID:             m.Completion.ID,
				Error:          errorFrameFrom(m.Completion.Error),
				Usage:          usageFrameFrom(m.Completion.Usage),
				TaskIdentifier: m.Completion.TaskIdentifier,
			},
		}}, nil

	case *wire.TaskHeartbeat:
		return &workerFrame{TaskHeartbeat: &heartbeatFrame{
			Type:    m.MessageType(),
			Version: m.Version,
			ID:      m.ID,
		}}, nil

	case *wire.IndexTasksComplete:
		return &workerFrame{IndexTasksComplete: indexTasksFrameFrom(m.Tasks, m.Version)}, nil

	case *wire.IndexComplete:
		return &workerFrame{IndexTasksComplete: indexTasksFrameFrom(m.Payload.Manifest.Tasks, m.Version)}, nil

	case *wire.Log:
		return &workerFrame{Log: &logFrame{
			Type:      m.MessageType(),
			Version:   m.Version,
			Level:     m.Level,
			Message:   m.Message,
			Logger:    m.Logger,
			Timestamp: m.Timestamp,
			Exception: m.Exception,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: %q", wire.ErrUnknownMessageType, msg.MessageType())
	}
}

func usageFrameFrom(usage *wire.TaskRunUsage) *usageFrame {
	if usage == nil {
		return nil
	}
	return &usageFrame{DurationMs: usage.DurationMs}
}

func errorFrameFrom(e wire.TaskRunError) *errorFrame {
	switch e.Kind {
	case wire.ErrorKindBuiltIn:
		return &errorFrame{BuiltInError: &builtInErrorFrame{
			Name:       e.Name,
			Message:    e.Message,
			StackTrace: e.StackTrace,
		}}
	case wire.ErrorKindInternal:
		return &errorFrame{InternalError: &internalErrorFrame{
			Code:       string(e.Code),
			Message:    e.Message,
			StackTrace: e.StackTrace,
		}}
	default:
		return &errorFrame{StringError: &stringErrorFrame{Raw: e.Raw}}
	}
}

func indexTasksFrameFrom(tasks []wire.TaskResource, version string) *indexTasksFrame {
	frame := &indexTasksFrame{
		Type:    wire.TypeIndexTasksComplete,
		Version: version,
		Tasks:   make([]taskResourceFrame, 0, len(tasks)),
	}
	for _, t := range tasks {
		frame.Tasks = append(frame.Tasks, taskResourceFrame{
			ID:          t.ID,
			FilePath:    t.FilePath,
			EntryPoint:  t.EntryPoint,
			ExportName:  t.ExportName,
			Description: t.Description,
			MaxDuration: t.MaxDuration,
		})
	}
	return frame
}

// messageFromFrame decomposes an inbound frame into the wire schema.
// Optional execution sub-messages are populated only when the frame carries
// them.
func messageFromFrame(frame *coordinatorFrame) (wire.CoordinatorMessage, error) {
	switch {
	case frame.ExecuteTaskRun != nil:
		msg := wire.NewExecuteTaskRun(executionFromFrame(frame.ExecuteTaskRun.Execution))
		if frame.ExecuteTaskRun.Version != "" {
			msg.Version = frame.ExecuteTaskRun.Version
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		return msg, nil

	case frame.Cancel != nil:
		return &wire.Cancel{Version: versionOr(frame.Cancel.Version), TimeoutInMs: frame.Cancel.TimeoutInMs}, nil

	case frame.Flush != nil:
		return &wire.Flush{Version: versionOr(frame.Flush.Version), TimeoutInMs: frame.Flush.TimeoutInMs}, nil

	default:
		return nil, fmt.Errorf("%w: empty coordinator frame", wire.ErrMissingType)
	}
}

func versionOr(v string) string {
	if v == "" {
		return wire.Version
	}
	return v
}

func executionFromFrame(f executionFrame) wire.TaskRunExecution {
	exec := wire.TaskRunExecution{
		Task: wire.TaskInfo{ID: f.Task.ID, FilePath: f.Task.FilePath},
		Run: wire.RunInfo{
			ID:          f.Run.ID,
			Payload:     f.Run.Payload,
			PayloadType: f.Run.PayloadType,
			Tags:        f.Run.Tags,
			IsTest:      f.Run.IsTest,
		},
		Attempt: wire.AttemptInfo{
			ID:        f.Attempt.ID,
			Number:    f.Attempt.Number,
			StartedAt: f.Attempt.StartedAt,
		},
	}

	if f.Batch != nil {
		exec.Batch = &wire.BatchInfo{ID: f.Batch.ID}
	}
	if f.Queue != nil {
		exec.Queue = &wire.QueueInfo{ID: f.Queue.ID, Name: f.Queue.Name}
	}
	if f.Organization != nil {
		exec.Organization = &wire.OrganizationInfo{
			ID:   f.Organization.ID,
			Slug: f.Organization.Slug,
			Name: f.Organization.Name,
		}
	}
	if f.Project != nil {
		exec.Project = &wire.ProjectInfo{
			ID:   f.Project.ID,
			Ref:  f.Project.Ref,
			Slug: f.Project.Slug,
			Name: f.Project.Name,
		}
	}
	if f.Environment != nil {
		exec.Environment = &wire.EnvironmentInfo{
			ID:   f.Environment.ID,
			Slug: f.Environment.Slug,
			Type: wire.EnvironmentType(f.Environment.Type),
		}
	}
	if f.Deployment != nil {
		exec.Deployment = &wire.DeploymentInfo{
			ID:        f.Deployment.ID,
			ShortCode: f.Deployment.ShortCode,
			Version:   f.Deployment.Version,
		}
	}

	return exec
}
