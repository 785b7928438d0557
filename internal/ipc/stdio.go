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
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triggerkit/worker/internal/wire"
)

// StdioConnection carries newline-delimited JSON over the standard streams:
// stdin inbound, stdout outbound. Stdout belongs exclusively to this
// connection; diagnostics go to stderr through the logger.
type StdioConnection struct {
	in  io.Reader
	out io.Writer
	d   *dispatcher

	// writeMu makes each outbound line one atomic write.
	writeMu sync.Mutex

	running atomic.Bool
	stopped atomic.Bool
}

// NewStdio creates a stdio connection over the given streams. Production
// entry points pass os.Stdin and os.Stdout.
func NewStdio(in io.Reader, out io.Writer, logger *slog.Logger) *StdioConnection {
	return &StdioConnection{
		in:  in,
		out: out,
		d:   newDispatcher(logger),
	}
}

// Send serialises the message to a single JSON line and writes it to stdout.
// The write mutex guarantees that concurrent senders emit whole lines.
func (c *StdioConnection) Send(msg wire.WorkerMessage) error {
	if c.stopped.Load() {
		return ErrStopped
	}

	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	line := append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.out.Write(line); err != nil {
		return err
	}
	if f, ok := c.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// On installs the handler for a message type.
func (c *StdioConnection) On(msgType string, h Handler) {
	c.d.on(msgType, h)
}

// Listen reads stdin line by line and dispatches each message. Blank lines
// are skipped; EOF and Stop both end the loop cleanly. Malformed lines are
// logged and skipped.
func (c *StdioConnection) Listen(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	reader := bufio.NewReader(c.in)
	for {
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			c.d.dispatchRaw(ctx, []byte(trimmed))
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Flush waits for in-flight sends to finish, up to timeout. Stdout writes
// are unbuffered, so draining reduces to acquiring the write mutex after all
// earlier senders released it.
func (c *StdioConnection) Flush(timeout time.Duration) error {
	acquired := make(chan struct{})
	go func() {
		c.writeMu.Lock()
		close(acquired)
		c.writeMu.Unlock()
	}()

	select {
	case <-acquired:
		return nil
	case <-time.After(timeout):
		return ErrFlushTimeout
	}
}

// Stop makes Listen exit at its next opportunity. Idempotent.
func (c *StdioConnection) Stop() {
	c.stopped.Store(true)
}

// Running reports whether the listen loop is active.
func (c *StdioConnection) Running() bool {
	return c.running.Load()
}

var _ Connection = (*StdioConnection)(nil)
