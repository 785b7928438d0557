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

package task

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triggerkit/worker/internal/wire"
	"github.com/triggerkit/worker/pkg/errors"
)

// RetryConfig controls the retry schedule the coordinator applies when an
// attempt fails. Zero-valued fields take the defaults {3 attempts, 1s min,
// 60s max, factor 2, randomized}; a nil Randomize means true.
type RetryConfig struct {
	MaxAttempts    int
	MinTimeoutInMs int
	MaxTimeoutInMs int
	Factor         float64
	Randomize      *bool
}

// QueueConfig routes the task onto a named queue with an optional concurrency
// cap.
type QueueConfig struct {
	Name             string
	ConcurrencyLimit int
}

// Option configures a task at definition time.
type Option func(*Task) error

// WithRetry sets the task's retry configuration. Omitted fields take the
// documented defaults; the resulting configuration must satisfy
// maxAttempts >= 1, minTimeout >= 0, maxTimeout >= minTimeout, factor >= 1.
func WithRetry(cfg RetryConfig) Option {
	return func(t *Task) error {
		wcfg := wire.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			MinTimeoutInMs: cfg.MinTimeoutInMs,
			MaxTimeoutInMs: cfg.MaxTimeoutInMs,
			Factor:         cfg.Factor,
			Randomize:      cfg.Randomize,
		}
		wcfg.ApplyDefaults()
		if err := wcfg.Validate(); err != nil {
			return &errors.InvalidTaskError{ID: t.id, Reason: err.Error()}
		}
		t.retry = &wcfg
		return nil
	}
}

// WithQueue sets the task's queue configuration.
func WithQueue(cfg QueueConfig) Option {
	return func(t *Task) error {
		if cfg.ConcurrencyLimit < 0 {
			return &errors.InvalidTaskError{ID: t.id, Reason: "queue concurrencyLimit must be >= 1"}
		}
		t.queue = &wire.QueueConfig{Name: cfg.Name, ConcurrencyLimit: cfg.ConcurrencyLimit}
		return nil
	}
}

// WithMaxDuration bounds one attempt of the task to the given number of
// seconds. The engine cancels the run with MAX_DURATION_EXCEEDED when the
// deadline fires.
func WithMaxDuration(seconds int) Option {
	return func(t *Task) error {
		if seconds < 1 {
			return &errors.InvalidTaskError{ID: t.id, Reason: "maxDuration must be >= 1 second"}
		}
		t.maxDuration = seconds
		return nil
	}
}

// WithDescription attaches a human-readable description, surfaced in the
// indexer catalog.
func WithDescription(description string) Option {
	return func(t *Task) error {
		t.description = description
		return nil
	}
}

// WithPayloadSchema validates every inbound payload against the given JSON
// Schema before the task body runs. A violating payload fails the run with a
// TASK_INPUT_ERROR instead of reaching user code.
func WithPayloadSchema(schema []byte) Option {
	return func(t *Task) error {
		var doc any
		if err := json.Unmarshal(schema, &doc); err != nil {
			return &errors.InvalidTaskError{ID: t.id, Reason: "payload schema is not valid JSON: " + err.Error()}
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("payload.schema.json", doc); err != nil {
			return &errors.InvalidTaskError{ID: t.id, Reason: "payload schema: " + err.Error()}
		}
		compiled, err := c.Compile("payload.schema.json")
		if err != nil {
			return &errors.InvalidTaskError{ID: t.id, Reason: "payload schema: " + err.Error()}
		}

		t.payloadSchema = compiled
		return nil
	}
}
