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

// TaskResource describes one registered task in the indexer catalog.
// FilePath is the source location recorded at registration; EntryPoint is the
// manifest entry whose load produced the registration. ExportName equals the
// task id.
type TaskResource struct {
	ID          string       `json:"id"`
	FilePath    string       `json:"filePath"`
	EntryPoint  string       `json:"entryPoint,omitempty"`
	ExportName  string       `json:"exportName"`
	Description string       `json:"description,omitempty"`
	Retry       *RetryConfig `json:"retry,omitempty"`
	Queue       *QueueConfig `json:"queue,omitempty"`
	MaxDuration int          `json:"maxDuration,omitempty"`
}

// QueueConfig routes a task onto a named queue with an optional concurrency
// cap.
type QueueConfig struct {
	Name             string `json:"name,omitempty"`
	ConcurrencyLimit int    `json:"concurrencyLimit,omitempty"`
}

// Validate checks the queue configuration.
func (q *QueueConfig) Validate() error {
	if q.ConcurrencyLimit < 0 {
		return fmt.Errorf("queue concurrencyLimit must be >= 1, got %d", q.ConcurrencyLimit)
	}
	return nil
}

// RetryConfig controls the retry schedule the coordinator applies to failed
// attempts. Zero-valued fields take the documented defaults when
// ApplyDefaults runs; Randomize is a pointer so that an explicit false can be
// told apart from an omitted field.
type RetryConfig struct {
	MaxAttempts    int     `json:"maxAttempts,omitempty"`
	MinTimeoutInMs int     `json:"minTimeoutInMs,omitempty"`
	MaxTimeoutInMs int     `json:"maxTimeoutInMs,omitempty"`
	Factor         float64 `json:"factor,omitempty"`
	Randomize      *bool   `json:"randomize,omitempty"`
}

// Retry defaults.
const (
	DefaultRetryMaxAttempts    = 3
	DefaultRetryMinTimeoutInMs = 1000
	DefaultRetryMaxTimeoutInMs = 60000
	DefaultRetryFactor         = 2.0
)

// DefaultRetryConfig returns the fully-populated default retry configuration.
func DefaultRetryConfig() RetryConfig {
	randomize := true
	return RetryConfig{
		MaxAttempts:    DefaultRetryMaxAttempts,
		MinTimeoutInMs: DefaultRetryMinTimeoutInMs,
		MaxTimeoutInMs: DefaultRetryMaxTimeoutInMs,
		Factor:         DefaultRetryFactor,
		Randomize:      &randomize,
	}
}

// ApplyDefaults fills omitted fields with their defaults, field-wise.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultRetryMaxAttempts
	}
	if r.MinTimeoutInMs == 0 {
		r.MinTimeoutInMs = DefaultRetryMinTimeoutInMs
	}
	if r.MaxTimeoutInMs == 0 {
		r.MaxTimeoutInMs = DefaultRetryMaxTimeoutInMs
	}
	if r.Factor == 0 {
		r.Factor = DefaultRetryFactor
	}
	if r.Randomize == nil {
		randomize := true
		r.Randomize = &randomize
	}
}

// Validate checks the retry configuration constraints.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry maxAttempts must be >= 1, got %d", r.MaxAttempts)
	}
	if r.MinTimeoutInMs < 0 {
		return fmt.Errorf("retry minTimeoutInMs must be >= 0, got %d", r.MinTimeoutInMs)
	}
	if r.MaxTimeoutInMs < r.MinTimeoutInMs {
		return fmt.Errorf("retry maxTimeoutInMs (%d) must be >= minTimeoutInMs (%d)",
			r.MaxTimeoutInMs, r.MinTimeoutInMs)
	}
	if r.Factor < 1 {
		return fmt.Errorf("retry factor must be >= 1, got %v", r.Factor)
	}
	return nil
}
