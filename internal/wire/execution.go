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

import "fmt"

// EnvironmentType classifies the deployment environment a run executes in.
type EnvironmentType string

// Environment types.
const (
	EnvironmentTypeProduction  EnvironmentType = "PRODUCTION"
	EnvironmentTypeStaging     EnvironmentType = "STAGING"
	EnvironmentTypeDevelopment EnvironmentType = "DEVELOPMENT"
	EnvironmentTypePreview     EnvironmentType = "PREVIEW"
)

// Valid reports whether the environment type is part of the closed enum.
func (t EnvironmentType) Valid() bool {
	switch t {
	case EnvironmentTypeProduction, EnvironmentTypeStaging,
		EnvironmentTypeDevelopment, EnvironmentTypePreview:
		return true
	}
	return false
}

// TaskRunExecution is the inbound payload of an EXECUTE_TASK_RUN message.
// Task, run, and attempt are always present; the remaining sub-objects are
// populated only when the coordinator marks them present.
type TaskRunExecution struct {
	Task         TaskInfo          `json:"task"`
	Run          RunInfo           `json:"run"`
	Attempt      AttemptInfo       `json:"attempt"`
	Batch        *BatchInfo        `json:"batch,omitempty"`
	Queue        *QueueInfo        `json:"queue,omitempty"`
	Organization *OrganizationInfo `json:"organization,omitempty"`
	Project      *ProjectInfo      `json:"project,omitempty"`
	Environment  *EnvironmentInfo  `json:"environment,omitempty"`
	Deployment   *DeploymentInfo   `json:"deployment,omitempty"`
}

// TaskInfo identifies the task to execute.
type TaskInfo struct {
	ID         string `json:"id"`
	FilePath   string `json:"filePath"`
	ExportName string `json:"exportName,omitempty"`
}

// RunInfo carries the run identity and its encoded payload.
type RunInfo struct {
	ID           string        `json:"id"`
	Payload      string        `json:"payload"`
	PayloadType  string        `json:"payloadType"`
	Tags         []string      `json:"tags"`
	IsTest       bool          `json:"isTest"`
	TraceContext *TraceContext `json:"traceContext,omitempty"`
}

// TraceContext carries W3C trace-context headers for distributed tracing.
type TraceContext struct {
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

// AttemptInfo identifies one attempt of a run.
type AttemptInfo struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	StartedAt string `json:"startedAt"`
}

// BatchInfo identifies the batch a run belongs to.
type BatchInfo struct {
	ID string `json:"id"`
}

// QueueInfo identifies the queue a run was dispatched from.
type QueueInfo struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// OrganizationInfo identifies the owning organization.
type OrganizationInfo struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// ProjectInfo identifies the owning project.
type ProjectInfo struct {
	ID   string `json:"id"`
	Ref  string `json:"ref"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// EnvironmentInfo identifies the deployment environment.
type EnvironmentInfo struct {
	ID   string          `json:"id"`
	Slug string          `json:"slug"`
	Type EnvironmentType `json:"type"`
}

// DeploymentInfo identifies the deployment a run executes against.
type DeploymentInfo struct {
	ID        string `json:"id"`
	ShortCode string `json:"shortCode"`
	Version   string `json:"version"`
}

// Validate checks the execution for the fields the engine depends on.
func (e *TaskRunExecution) Validate() error {
	if e.Task.ID == "" {
		return fmt.Errorf("%w: execution missing task id", ErrInvalidMessage)
	}
	if e.Run.ID == "" {
		return fmt.Errorf("%w: execution missing run id", ErrInvalidMessage)
	}
	if e.Attempt.Number < 1 {
		return fmt.Errorf("%w: attempt number must be >= 1", ErrInvalidMessage)
	}
	if e.Environment != nil && !e.Environment.Type.Valid() {
		return fmt.Errorf("%w: unknown environment type %q", ErrInvalidMessage, e.Environment.Type)
	}
	return nil
}
