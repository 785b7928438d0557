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

package log

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/triggerkit/worker/internal/wire"
	"github.com/triggerkit/worker/pkg/task"
)

// Sink is the ambient IPC channel log records are forwarded to. It is
// satisfied by ipc.Connection.
type Sink interface {
	// Send enqueues a worker message for transmission.
	Send(msg wire.WorkerMessage) error

	// Running reports whether the connection is open and listening.
	Running() bool
}

// sinkHolder wraps the interface so atomic.Value sees one concrete type.
type sinkHolder struct{ sink Sink }

var ambientSink atomic.Value

// SetSink installs the ambient IPC sink. Records logged while the sink is
// running are emitted as LOG wire messages instead of stderr lines.
func SetSink(s Sink) {
	ambientSink.Store(sinkHolder{sink: s})
}

// ClearSink removes the ambient IPC sink.
func ClearSink() {
	ambientSink.Store(sinkHolder{})
}

func currentSink() Sink {
	if h, ok := ambientSink.Load().(sinkHolder); ok {
		return h.sink
	}
	return nil
}

// LoggerName identifies this runtime in LOG messages.
const LoggerName = "trigger-worker"

// ipcHandler forwards records to the ambient IPC sink and falls back to the
// wrapped handler when no sink is installed, the sink is not running, or the
// send fails. It never returns an error to the caller.
type ipcHandler struct {
	fallback slog.Handler
	level    slog.Leveler
	attrs    []slog.Attr
	groups   []string
}

func newIPCHandler(fallback slog.Handler, level slog.Leveler) *ipcHandler {
	return &ipcHandler{fallback: fallback, level: level}
}

// Enabled implements slog.Handler.
func (h *ipcHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ipcHandler) Handle(ctx context.Context, record slog.Record) error {
	sink := currentSink()
	if sink == nil || !sink.Running() {
		_ = h.fallback.Handle(ctx, record)
		return nil
	}

	if err := sink.Send(h.toWire(ctx, record)); err != nil {
		_ = h.fallback.Handle(ctx, record)
	}
	return nil
}

// toWire converts a record into a LOG message, attaching run metadata from
// the current TaskContext.
func (h *ipcHandler) toWire(ctx context.Context, record slog.Record) *wire.Log {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := &wire.Log{
		Version:   wire.Version,
		Level:     levelString(record.Level),
		Message:   record.Message,
		Logger:    LoggerName,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}

	attrs := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		addAttr(attrs, msg, attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(attrs, msg, h.prefixed(attr.Key), attr.Value)
		return true
	})
	if len(attrs) > 0 {
		msg.Attributes = attrs
	}

	if tc := task.FromContext(ctx); tc != nil {
		msg.Task = &wire.LogTask{
			ID:            tc.TaskID,
			RunID:         tc.RunID,
			AttemptID:     tc.AttemptID,
			AttemptNumber: tc.AttemptNumber,
		}
	}

	return msg
}

// prefixed qualifies a key with the open group names.
func (h *ipcHandler) prefixed(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

func addAttr(attrs map[string]any, msg *wire.Log, key string, value slog.Value) {
	resolved := value.Resolve()
	if err, ok := resolved.Any().(error); ok {
		msg.Exception = err.Error()
		attrs[key] = err.Error()
		return
	}
	attrs[key] = resolved.Any()
}

// WithAttrs implements slog.Handler.
func (h *ipcHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.fallback = h.fallback.WithAttrs(attrs)
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, attr := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefixed(attr.Key), Value: attr.Value})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ipcHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.fallback = h.fallback.WithGroup(name)
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
