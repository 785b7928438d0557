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

// Package engine executes one task attempt per worker lifetime. The runner
// listens for the coordinator's EXECUTE_TASK_RUN, drives the attempt through
// heartbeats, cancellation, and the terminal result, and guarantees the
// terminal message is flushed before the worker exits.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/triggerkit/worker/internal/errmap"
	"github.com/triggerkit/worker/internal/indexer"
	"github.com/triggerkit/worker/internal/ipc"
	"github.com/triggerkit/worker/internal/tracing"
	"github.com/triggerkit/worker/internal/wire"
	"github.com/triggerkit/worker/pkg/errors"
	"github.com/triggerkit/worker/pkg/task"
)

// Config parameterises the runner.
type Config struct {
	// HeartbeatInterval is the cadence of TASK_HEARTBEAT during a run.
	HeartbeatInterval time.Duration

	// FlushTimeout bounds the terminal flush.
	FlushTimeout time.Duration
}

// Defaults for unset config fields.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultFlushTimeout      = 10 * time.Second
)

// Deps are the runner's collaborators.
type Deps struct {
	Conn     ipc.Connection
	Registry *task.Registry
	Loader   indexer.Loader
	Logger   *slog.Logger
	Tracing  *tracing.Provider
}

// Runner owns the run-worker lifecycle.
type Runner struct {
	conn     ipc.Connection
	registry *task.Registry
	loader   indexer.Loader
	logger   *slog.Logger
	tracing  *tracing.Provider
	cfg      Config

	baseCtx context.Context

	mu        sync.Mutex
	active    bool
	cancelRun context.CancelCauseFunc

	// done closes after the terminal message is sent and flushed.
	done chan struct{}
}

// New creates a runner. Nil optional deps get inert defaults.
func New(deps Deps, cfg Config) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracing == nil {
		deps.Tracing, _ = tracing.NewProvider(context.Background(), tracing.Config{})
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Runner{
		conn:     deps.Conn,
		registry: deps.Registry,
		loader:   deps.Loader,
		logger:   deps.Logger,
		tracing:  deps.Tracing,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Run listens for coordinator messages and returns after the attempt's
// terminal message is flushed, or when the transport closes without a run.
// SIGINT and SIGTERM cancel the in-flight run cooperatively.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.baseCtx = ctx

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			r.logger.Info("signal received, cancelling run", "signal", sig.String())
			r.cancelActive(errmap.ErrRunCancelled)
		case <-ctx.Done():
		}
	}()

	r.conn.On(wire.TypeExecuteTaskRun, r.handleExecute)
	r.conn.On(wire.TypeCancel, r.handleCancel)
	r.conn.On(wire.TypeFlush, r.handleFlush)

	listenErr := make(chan error, 1)
	go func() { listenErr <- r.conn.Listen(ctx) }()

	select {
	case <-r.done:
		r.conn.Stop()
		return nil

	case err := <-listenErr:
		// Transport closed. A clean close means the coordinator finished
		// writing and still reads our output, so let the run complete; a
		// transport failure means nobody is listening, so cancel it.
		if r.isActive() {
			if err != nil {
				r.cancelActive(errmap.ErrRunCancelled)
			}
			<-r.done
		}
		r.conn.Stop()
		return err
	}
}

func (r *Runner) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// cancelActive cancels the in-flight run with the given cause. Safe to call
// at any time; later calls are no-ops.
func (r *Runner) cancelActive(cause error) {
	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

// handleExecute starts the attempt goroutine. A second EXECUTE_TASK_RUN
// while one run is in flight fails fast: this worker shape is strictly one
// run per process.
func (r *Runner) handleExecute(_ context.Context, msg wire.CoordinatorMessage) error {
	m := msg.(*wire.ExecuteTaskRun)

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		result := wire.NewFailureResult(m.Execution.Run.ID,
			wire.InternalError(wire.ErrorCodeInternalError, "a task run is already in progress", ""))
		result.SkippedRetrying = true
		return r.conn.Send(wire.NewTaskRunFailedToRun(result))
	}
	r.active = true
	runCtx, cancel := context.WithCancelCause(r.baseCtx)
	r.cancelRun = cancel
	r.mu.Unlock()

	go r.attempt(runCtx, m.Execution)
	return nil
}

// handleCancel cancels the in-flight run. Without one there is nothing to
// do; the coordinator may race its own bookkeeping.
func (r *Runner) handleCancel(_ context.Context, msg wire.CoordinatorMessage) error {
	if !r.isActive() {
		r.logger.Debug("CANCEL with no run in flight")
		return nil
	}
	r.cancelActive(errmap.ErrRunCancelled)
	return nil
}

// handleFlush drains buffered output within the requested deadline.
func (r *Runner) handleFlush(ctx context.Context, msg wire.CoordinatorMessage) error {
	timeout := r.cfg.FlushTimeout
	if m := msg.(*wire.Flush); m.TimeoutInMs > 0 {
		timeout = time.Duration(m.TimeoutInMs) * time.Millisecond
	}
	r.flush(ctx, timeout)
	return nil
}

// flush drains IPC first, then the tracing SDK. Failures are logged, never
// fatal: a flush that cannot complete must not take down a finished run.
func (r *Runner) flush(ctx context.Context, timeout time.Duration) {
	if err := r.conn.Flush(timeout); err != nil {
		r.logger.Warn("IPC flush failed", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.tracing.ForceFlush(flushCtx); err != nil {
		r.logger.Warn("trace flush failed", "error", err)
	}
}

// attempt drives one task attempt to its terminal message.
func (r *Runner) attempt(ctx context.Context, exec wire.TaskRunExecution) {
	started := time.Now()
	logger := r.logger.With("runId", exec.Run.ID, "taskId", exec.Task.ID)

	tc := taskContextFrom(exec)
	task.Install(tc)
	defer task.Clear()

	spanCtx := tracing.ExtractTraceparent(ctx, os.Getenv("TRACEPARENT"))
	spanCtx, span := r.tracing.Tracer().Start(spanCtx, "worker.run",
		trace.WithAttributes(
			attribute.String("task.id", exec.Task.ID),
			attribute.String("run.id", exec.Run.ID),
			attribute.Int("attempt.number", exec.Attempt.Number),
		))
	defer span.End()

	hbStop := make(chan struct{})
	hbDone := make(chan struct{})
	go r.heartbeats(exec.Run.ID, hbStop, hbDone)

	out, t, runErr := r.execute(spanCtx, exec)

	usage := &wire.TaskRunUsage{DurationMs: time.Since(started).Milliseconds()}

	// Heartbeats stop and join before the terminal message: nothing follows
	// the terminal on the wire.
	close(hbStop)
	<-hbDone

	if runErr != nil {
		taskErr := errmap.Map(runErr)
		result := wire.NewFailureResult(exec.Run.ID, taskErr)
		result.Usage = usage
		result.TaskIdentifier = exec.Task.ID

		switch taskErr.Code {
		case wire.ErrorCodeTaskRunCancelled, wire.ErrorCodeMaxDurationExceeded:
			result.SkippedRetrying = true
		default:
			if t != nil && t.Retry() != nil {
				result.Retry = t.Retry().Schedule(exec.Attempt.Number, time.Now())
			}
		}

		span.RecordError(runErr)
		span.SetStatus(codes.Error, taskErr.String())
		logger.Warn("task run failed", "error", taskErr.String(), "durationMs", usage.DurationMs)

		r.finish(wire.NewTaskRunFailedToRun(result))
		return
	}

	result := wire.NewSuccessResult(exec.Run.ID, string(out))
	result.Usage = usage
	result.TaskIdentifier = exec.Task.ID

	span.SetStatus(codes.Ok, "")
	logger.Info("task run completed", "durationMs", usage.DurationMs)

	r.finish(wire.NewTaskRunCompleted(result))
}

// execute resolves the task and runs it. The returned task is non-nil once
// lookup succeeded, so the caller can read its retry config even on failure.
func (r *Runner) execute(ctx context.Context, exec wire.TaskRunExecution) (json.RawMessage, *task.Task, error) {
	payload := []byte(exec.Run.Payload)
	if !json.Valid(payload) {
		return nil, nil, &errors.PayloadError{
			TaskID: exec.Task.ID,
			Cause:  errors.New("run payload is not valid JSON"),
		}
	}

	t, ok := r.registry.Lookup(exec.Task.ID)
	if !ok && r.loader != nil && exec.Task.FilePath != "" {
		_, importSpan := r.tracing.Tracer().Start(ctx, "worker.import",
			trace.WithAttributes(attribute.String("task.filePath", exec.Task.FilePath)))
		err := r.loader.Load(exec.Task.FilePath)
		if err != nil {
			importSpan.RecordError(err)
		}
		importSpan.End()
		if err != nil {
			return nil, nil, err
		}
		t, ok = r.registry.Lookup(exec.Task.ID)
	}
	if !ok {
		return nil, nil, &errors.TaskNotFoundError{ID: exec.Task.ID, FilePath: exec.Task.FilePath}
	}

	if t.MaxDuration() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx,
			time.Duration(t.MaxDuration())*time.Second, errmap.ErrMaxDurationExceeded)
		defer cancel()
	}

	execCtx, execSpan := r.tracing.Tracer().Start(ctx, "worker.execute")
	out, err := t.Execute(execCtx, payload)
	execSpan.End()
	return out, t, err
}

// finish sends the terminal message and flushes everything behind it.
func (r *Runner) finish(msg wire.WorkerMessage) {
	if err := r.conn.Send(msg); err != nil {
		r.logger.Error("terminal send failed", "type", msg.MessageType(), "error", err)
	}
	r.flush(context.Background(), r.cfg.FlushTimeout)
	close(r.done)
}

// heartbeats emits TASK_HEARTBEAT for the run until stopped. Send failures
// are logged and swallowed; a missed heartbeat must never kill the run.
func (r *Runner) heartbeats(runID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.conn.Send(wire.NewTaskHeartbeat(runID)); err != nil {
				r.logger.Warn("heartbeat send failed", "runId", runID, "error", err)
			}
		}
	}
}

// taskContextFrom flattens the execution envelope into the ambient context.
func taskContextFrom(exec wire.TaskRunExecution) *task.TaskContext {
	tc := &task.TaskContext{
		TaskID:        exec.Task.ID,
		TaskFilePath:  exec.Task.FilePath,
		RunID:         exec.Run.ID,
		RunTags:       exec.Run.Tags,
		IsTest:        exec.Run.IsTest,
		AttemptID:     exec.Attempt.ID,
		AttemptNumber: exec.Attempt.Number,
		StartedAt:     exec.Attempt.StartedAt,
	}

	if exec.Batch != nil {
		tc.BatchID = exec.Batch.ID
	}
	if exec.Queue != nil {
		tc.QueueName = exec.Queue.Name
	}
	if exec.Organization != nil {
		tc.OrganizationID = exec.Organization.ID
		tc.OrganizationSlug = exec.Organization.Slug
		tc.OrganizationName = exec.Organization.Name
	}
	if exec.Project != nil {
		tc.ProjectID = exec.Project.ID
		tc.ProjectRef = exec.Project.Ref
		tc.ProjectSlug = exec.Project.Slug
		tc.ProjectName = exec.Project.Name
	}
	if exec.Environment != nil {
		tc.Environment = map[string]string{
			"id":   exec.Environment.ID,
			"slug": exec.Environment.Slug,
			"type": string(exec.Environment.Type),
		}
	}
	if exec.Deployment != nil {
		tc.DeploymentID = exec.Deployment.ID
		tc.DeploymentVersion = exec.Deployment.Version
	}
	return tc
}
