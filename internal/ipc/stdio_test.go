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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerkit/worker/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer lets concurrent senders share one output buffer safely.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioSendWritesOneLine(t *testing.T) {
	var out bytes.Buffer
	c := NewStdio(strings.NewReader(""), &out, discardLogger())

	require.NoError(t, c.Send(wire.NewTaskHeartbeat("run_1")))

	line := out.String()
	require.True(t, strings.HasSuffix(line, "\n"), "message must be newline terminated")
	require.Equal(t, 1, strings.Count(line, "\n"))

	msg, err := wire.ParseWorkerMessage([]byte(strings.TrimSpace(line)))
	require.NoError(t, err)
	hb, ok := msg.(*wire.TaskHeartbeat)
	require.True(t, ok)
	assert.Equal(t, "run_1", hb.ID)
	assert.Equal(t, wire.Version, hb.Version)
}

func TestStdioConcurrentSendsDoNotInterleave(t *testing.T) {
	out := &syncBuffer{}
	c := NewStdio(strings.NewReader(""), out, discardLogger())

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Send(wire.NewTaskHeartbeat(fmt.Sprintf("run_%d", i))))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, senders)

	seen := make(map[string]bool)
	for _, line := range lines {
		msg, err := wire.ParseWorkerMessage([]byte(line))
		require.NoError(t, err, "every line must be a whole JSON message: %q", line)
		seen[msg.(*wire.TaskHeartbeat).ID] = true
	}
	assert.Len(t, seen, senders, "every sender's message must survive intact")
}

func TestStdioListenDispatchesByType(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"CANCEL","version":"v1"}`,
		`{"type":"FLUSH","version":"v1","timeoutInMs":250}`,
	}, "\n") + "\n"

	c := NewStdio(strings.NewReader(input), &bytes.Buffer{}, discardLogger())

	var got []string
	var timeout int64
	c.On(wire.TypeCancel, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		got = append(got, msg.MessageType())
		return nil
	})
	c.On(wire.TypeFlush, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		got = append(got, msg.MessageType())
		timeout = msg.(*wire.Flush).TimeoutInMs
		return nil
	})

	require.NoError(t, c.Listen(context.Background()))
	assert.Equal(t, []string{wire.TypeCancel, wire.TypeFlush}, got)
	assert.Equal(t, int64(250), timeout)
}

func TestStdioListenSurvivesBadInput(t *testing.T) {
	input := strings.Join([]string{
		``,
		`this is not JSON`,
		`{"version":"v1"}`,
		`{"type":"REBOOT","version":"v1"}`,
		`{"type":"CANCEL","version":"v1","timeoutInMs":-1}`,
		`{"type":"CANCEL","version":"v1"}`,
		`{"type":"FLUSH","version":"v1"}`,
	}, "\n") + "\n"

	c := NewStdio(strings.NewReader(input), &bytes.Buffer{}, discardLogger())

	cancels := 0
	c.On(wire.TypeCancel, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		cancels++
		panic("handler blew up")
	})
	flushed := false
	c.On(wire.TypeFlush, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		flushed = true
		return nil
	})

	require.NoError(t, c.Listen(context.Background()))
	assert.Equal(t, 1, cancels, "only the valid CANCEL line reaches its handler")
	assert.True(t, flushed, "loop must keep dispatching after bad lines and a panicking handler")
}

func TestStdioListenHandlesTrailingLineWithoutNewline(t *testing.T) {
	c := NewStdio(strings.NewReader(`{"type":"CANCEL","version":"v1"}`), &bytes.Buffer{}, discardLogger())

	cancelled := false
	c.On(wire.TypeCancel, func(ctx context.Context, msg wire.CoordinatorMessage) error {
		cancelled = true
		return nil
	})

	require.NoError(t, c.Listen(context.Background()))
	assert.True(t, cancelled, "an unterminated final line still dispatches")
}

func TestStdioFlush(t *testing.T) {
	c := NewStdio(strings.NewReader(""), &bytes.Buffer{}, discardLogger())
	require.NoError(t, c.Send(wire.NewTaskHeartbeat("run_1")))
	require.NoError(t, c.Flush(time.Second))
}

func TestStdioFlushTimesOutWhileWriteHeld(t *testing.T) {
	c := NewStdio(strings.NewReader(""), &bytes.Buffer{}, discardLogger())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := c.Flush(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrFlushTimeout)
}

func TestStdioSendAfterStop(t *testing.T) {
	c := NewStdio(strings.NewReader(""), &bytes.Buffer{}, discardLogger())
	c.Stop()
	require.ErrorIs(t, c.Send(wire.NewTaskHeartbeat("run_1")), ErrStopped)
}
