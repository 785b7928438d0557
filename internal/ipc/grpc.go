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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/triggerkit/worker/internal/wire"
)

// WorkerServiceMethod is the full method name of the coordinator's
// bidirectional stream.
const WorkerServiceMethod = "/trigger.v1.WorkerService/Connect"

// connectStreamDesc describes the Connect stream for protoc-less dialing.
var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ClientStreams: true,
	ServerStreams: true,
}

// ErrNoAddress is returned when the gRPC transport is selected without an
// endpoint. This is a fatal startup error.
var ErrNoAddress = errors.New("ipc: gRPC address not configured (set TRIGGER_GRPC_ADDRESS)")

// jsonCodec carries the frame structs over gRPC without generated code.
type jsonCodec struct{}

// Marshal implements encoding.Codec.
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements encoding.Codec.
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name implements encoding.Codec.
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// outboundQueueSize bounds the send queue; Send blocks when it is full.
const outboundQueueSize = 64

// flushPollInterval is how often Flush re-checks the drain condition.
const flushPollInterval = 10 * time.Millisecond

// GRPCConnection is the streaming transport: one bidirectional stream to the
// coordinator, an outbound queue drained by a sender goroutine, and a reader
// loop that translates frames into the wire schema.
type GRPCConnection struct {
	target string
	d      *dispatcher
	logger *slog.Logger

	conn *grpc.ClientConn
	out  chan *workerFrame

	// pending counts messages accepted by Send and not yet written to the
	// stream; Flush waits for it to reach zero.
	pending atomic.Int64

	running atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
}

// DialGRPC creates a connection to the coordinator endpoint. Accepted target
// formats are "unix:/path" and "host:port". An empty target fails hard: a
// worker without an endpoint cannot report anything.
func DialGRPC(target string, logger *slog.Logger) (*GRPCConnection, error) {
	if target == "" {
		return nil, ErrNoAddress
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, err
	}

	return &GRPCConnection{
		target: target,
		d:      newDispatcher(logger),
		logger: logger,
		conn:   conn,
		out:    make(chan *workerFrame, outboundQueueSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Send translates the message to its frame and enqueues it. It blocks while
// the outbound queue is full and fails once the connection is stopped.
func (c *GRPCConnection) Send(msg wire.WorkerMessage) error {
	if c.stopped.Load() {
		return ErrStopped
	}

	frame, err := frameFromMessage(msg)
	if err != nil {
		return err
	}

	c.pending.Add(1)
	select {
	case c.out <- frame:
		return nil
	case <-c.stopCh:
		c.pending.Add(-1)
		return ErrStopped
	}
}

// On installs the handler for a message type.
func (c *GRPCConnection) On(msgType string, h Handler) {
	c.d.on(msgType, h)
}

// Listen opens the Connect stream, starts the sender goroutine, and reads
// inbound frames until EOF, Stop, or connection loss. Connection loss
// surfaces as an error so the engine can cancel a run still in flight.
func (c *GRPCConnection) Listen(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := c.conn.NewStream(streamCtx, &connectStreamDesc, WorkerServiceMethod)
	if err != nil {
		return err
	}

	go c.sender(stream)

	for {
		frame := &coordinatorFrame{}
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) || c.stopped.Load() {
				return nil
			}
			return err
		}

		msg, err := messageFromFrame(frame)
		if err != nil {
			c.logger.Warn("inbound frame malformed", "error", err)
			continue
		}
		c.d.dispatch(ctx, msg)
	}
}

// sender drains the outbound queue onto the stream. Send failures are logged
// and the message is dropped; terminal delivery is verified by Flush.
func (c *GRPCConnection) sender(stream grpc.ClientStream) {
	for {
		select {
		case frame := <-c.out:
			if err := stream.SendMsg(frame); err != nil {
				c.logger.Warn("outbound send failed", "error", err)
			}
			c.pending.Add(-1)
		case <-c.stopCh:
			// Drain what was accepted before the stop.
			for {
				select {
				case frame := <-c.out:
					if err := stream.SendMsg(frame); err != nil {
						c.logger.Warn("outbound send failed during drain", "error", err)
					}
					c.pending.Add(-1)
				default:
					return
				}
			}
		}
	}
}

// Flush polls until every accepted message has been written to the stream,
// up to timeout.
func (c *GRPCConnection) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.pending.Load() == 0 && len(c.out) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(flushPollInterval)
	}
}

// Stop ends the listen loop and releases the client connection. Idempotent.
func (c *GRPCConnection) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("closing gRPC connection", "error", err)
		}
	}
}

// Running reports whether the listen loop is active.
func (c *GRPCConnection) Running() bool {
	return c.running.Load()
}

var _ Connection = (*GRPCConnection)(nil)
