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
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/triggerkit/worker/internal/wire"
)

// coordinatorStub is an in-process WorkerService implementation: it records
// every frame the worker sends and forwards queued coordinator frames down
// the stream.
type coordinatorStub struct {
	frames chan *workerFrame
	outbox chan *coordinatorFrame
}

func newCoordinatorStub() *coordinatorStub {
	return &coordinatorStub{
		frames: make(chan *workerFrame, 16),
		outbox: make(chan *coordinatorFrame, 16),
	}
}

func (s *coordinatorStub) connect(_ any, stream grpc.ServerStream) error {
	go func() {
		for {
			frame := &workerFrame{}
			if err := stream.RecvMsg(frame); err != nil {
				return
			}
			s.frames <- frame
		}
	}()

	for frame := range s.outbox {
		if err := stream.SendMsg(frame); err != nil {
			return err
		}
	}
	return nil
}

// startCoordinator serves the stub on a unix socket and returns the dial
// target.
func startCoordinator(t *testing.T, stub *coordinatorStub) string {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "worker.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	server := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "trigger.v1.WorkerService",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Connect",
			Handler:       stub.connect,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, stub)

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return "unix:" + socket
}

func waitForFrame(t *testing.T, frames chan *workerFrame) *workerFrame {
	t.Helper()
	select {
	case frame := <-frames:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a worker frame")
		return nil
	}
}

func TestDialGRPCRequiresTarget(t *testing.T) {
	_, err := DialGRPC("", discardLogger())
	require.ErrorIs(t, err, ErrNoAddress)
}

func TestGRPCSendDeliversFrames(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)
	defer c.Stop()

	go func() { _ = c.Listen(context.Background()) }()

	require.NoError(t, c.Send(wire.NewTaskHeartbeat("run_42")))
	require.NoError(t, c.Flush(5*time.Second))

	frame := waitForFrame(t, stub.frames)
	require.NotNil(t, frame.TaskHeartbeat, "heartbeat must arrive in its oneof slot")
	assert.Equal(t, wire.TypeTaskHeartbeat, frame.TaskHeartbeat.Type)
	assert.Equal(t, "run_42", frame.TaskHeartbeat.ID)
}

func TestGRPCFailureCarriesErrorFrame(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)
	defer c.Stop()

	go func() { _ = c.Listen(context.Background()) }()

	result := wire.NewFailureResult("run_7",
		wire.InternalError(wire.ErrorCodeTaskRunCancelled, "", ""))
	require.NoError(t, c.Send(wire.NewTaskRunFailedToRun(result)))
	require.NoError(t, c.Flush(5*time.Second))

	frame := waitForFrame(t, stub.frames)
	require.NotNil(t, frame.TaskRunFailed)
	completion := frame.TaskRunFailed.Completion
	require.NotNil(t, completion)
	assert.Equal(t, "run_7", completion.ID)
	require.NotNil(t, completion.Error)
	require.NotNil(t, completion.Error.InternalError)
	assert.Equal(t, string(wire.ErrorCodeTaskRunCancelled), completion.Error.InternalError.Code)
	assert.Nil(t, completion.Error.BuiltInError)
	assert.Nil(t, completion.Error.StringError)
}

func TestGRPCDispatchesCoordinatorFrames(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)
	defer c.Stop()

	executed := make(chan *wire.ExecuteTaskRun, 1)
	c.On(wire.TypeExecuteTaskRun, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		executed <- msg.(*wire.ExecuteTaskRun)
		return nil
	})
	cancelled := make(chan *wire.Cancel, 1)
	c.On(wire.TypeCancel, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		cancelled <- msg.(*wire.Cancel)
		return nil
	})

	go func() { _ = c.Listen(context.Background()) }()

	stub.outbox <- &coordinatorFrame{ExecuteTaskRun: &executeFrame{
		Type:    wire.TypeExecuteTaskRun,
		Version: wire.Version,
		Execution: executionFrame{
			Task:    taskFrame{ID: "hello", FilePath: "tasks/hello.go"},
			Run:     runFrame{ID: "run_1", Payload: `{"name":"ada"}`, PayloadType: "application/json"},
			Attempt: attemptFrame{ID: "attempt_1", Number: 1, StartedAt: "2026-08-25T00:00:00Z"},
			Queue:   &queueFrame{Name: "default"},
		},
	}}
	stub.outbox <- &coordinatorFrame{Cancel: &controlFrame{
		Type:        wire.TypeCancel,
		Version:     wire.Version,
		TimeoutInMs: 500,
	}}

	select {
	case msg := <-executed:
		assert.Equal(t, "hello", msg.Execution.Task.ID)
		assert.Equal(t, "run_1", msg.Execution.Run.ID)
		require.NotNil(t, msg.Execution.Queue)
		assert.Equal(t, "default", msg.Execution.Queue.Name)
		assert.Nil(t, msg.Execution.Batch, "absent optionals stay nil")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for EXECUTE_TASK_RUN dispatch")
	}

	select {
	case msg := <-cancelled:
		assert.Equal(t, int64(500), msg.TimeoutInMs)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for CANCEL dispatch")
	}
}

func TestGRPCListenSurvivesMalformedFrames(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)
	defer c.Stop()

	cancelled := make(chan struct{}, 1)
	c.On(wire.TypeCancel, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		cancelled <- struct{}{}
		return nil
	})

	go func() { _ = c.Listen(context.Background()) }()

	// An empty frame and an invalid execution both get logged and skipped.
	stub.outbox <- &coordinatorFrame{}
	stub.outbox <- &coordinatorFrame{ExecuteTaskRun: &executeFrame{
		Type:    wire.TypeExecuteTaskRun,
		Version: wire.Version,
	}}
	stub.outbox <- &coordinatorFrame{Cancel: &controlFrame{Type: wire.TypeCancel, Version: wire.Version}}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame after malformed ones must still dispatch")
	}
}

func TestGRPCListenReturnsOnServerClose(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)
	defer c.Stop()

	done := make(chan error, 1)
	go func() { done <- c.Listen(context.Background()) }()

	require.NoError(t, c.Send(wire.NewTaskHeartbeat("run_1")))
	waitForFrame(t, stub.frames)

	close(stub.outbox)

	select {
	case err := <-done:
		require.NoError(t, err, "server finishing the stream is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after the server closed the stream")
	}
	assert.False(t, c.Running())
}

func TestGRPCSendAfterStop(t *testing.T) {
	stub := newCoordinatorStub()
	target := startCoordinator(t, stub)

	c, err := DialGRPC(target, discardLogger())
	require.NoError(t, err)

	c.Stop()
	require.ErrorIs(t, c.Send(wire.NewTaskHeartbeat("run_1")), ErrStopped)
}
