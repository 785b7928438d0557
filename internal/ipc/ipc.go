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

// Package ipc implements the worker side of the coordinator IPC channel. Two
// transports satisfy the same Connection contract: line-delimited JSON over
// the standard streams, and a bidirectional gRPC stream. The transport is
// chosen at entry-point time and never mixed within one worker lifetime.
package ipc

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/triggerkit/worker/internal/wire"
)

// ErrFlushTimeout is returned when Flush cannot drain the send side within
// its deadline.
var ErrFlushTimeout = errors.New("ipc: flush timed out")

// ErrStopped is returned by Send after the connection has been stopped.
var ErrStopped = errors.New("ipc: connection stopped")

// Handler processes one inbound coordinator message. Handlers run one at a
// time per connection; returning an error logs it without stopping the
// listen loop.
type Handler func(ctx context.Context, msg wire.CoordinatorMessage) error

// Connection is the transport-agnostic IPC contract.
type Connection interface {
	// Send enqueues a worker message for transmission. It returns once the
	// message is accepted, not once it is acknowledged. Concurrent senders
	// never interleave bytes on the wire.
	Send(msg wire.WorkerMessage) error

	// On installs the handler for a message type. A second registration for
	// the same type replaces the first.
	On(msgType string, h Handler)

	// Listen reads, validates, and dispatches inbound messages until EOF,
	// Stop, or a transport failure. Malformed input never stops the loop.
	Listen(ctx context.Context) error

	// Flush blocks until the send side is drained, up to timeout.
	Flush(timeout time.Duration) error

	// Stop makes Listen return at its next opportunity and releases
	// transport resources. Idempotent.
	Stop()

	// Running reports whether Listen is currently active.
	Running() bool
}

// dispatcher owns the handler table and the inbound error policy shared by
// both transports: every malformed-input condition is logged to the
// diagnostic logger and the caller continues.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (d *dispatcher) on(msgType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = h
}

func (d *dispatcher) handler(msgType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[msgType]
	return h, ok
}

// dispatchRaw parses one raw inbound payload and hands it to its handler.
// Dispatch is strictly serial: callers invoke it from a single loop.
func (d *dispatcher) dispatchRaw(ctx context.Context, data []byte) {
	msg, err := wire.ParseCoordinatorMessage(data)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrMissingType):
			d.logger.Warn("inbound message missing type", "error", err)
		case errors.Is(err, wire.ErrUnknownMessageType):
			d.logger.Warn("inbound message has unknown type", "error", err)
		default:
			d.logger.Warn("inbound message malformed", "error", err)
		}
		return
	}

	d.dispatch(ctx, msg)
}

// dispatch routes an already-parsed message to its handler, containing
// handler errors and panics.
func (d *dispatcher) dispatch(ctx context.Context, msg wire.CoordinatorMessage) {
	h, ok := d.handler(msg.MessageType())
	if !ok {
		d.logger.Warn("no handler for message type", "type", msg.MessageType())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"type", msg.MessageType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := h(ctx, msg); err != nil {
		d.logger.Error("handler failed", "type", msg.MessageType(), "error", err)
	}
}
