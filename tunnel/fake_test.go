// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/peertunnel/lib/fragment"
	"github.com/bureau-foundation/peertunnel/lib/testutil"
	"github.com/bureau-foundation/peertunnel/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel records written messages and reassembles them into
// frames on the frames channel.
type fakeChannel struct {
	label string

	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	failSends   bool
	reassembler fragment.Reassembler
	handler     transport.ChannelHandler

	frames     chan []byte
	closedOnce sync.Once
	closedCh   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		label:    transport.ChannelLabel,
		frames:   make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSends {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	if frame, complete := c.reassembler.Push(data); complete {
		c.frames <- frame
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closedOnce.Do(func() { close(c.closedCh) })
	return nil
}

func (c *fakeChannel) Bind(handler transport.ChannelHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// reply delivers frame to handler from channel as chunks of maxChunk
// followed by the terminator, as the remote peer would.
func reply(handler transport.ChannelHandler, channel transport.DataChannel, frame []byte, maxChunk int) {
	for _, chunk := range fragment.Split(frame, maxChunk) {
		handler.ChannelMessage(channel, chunk)
	}
}

func requireFrame(t *testing.T, result <-chan []byte, what string) []byte {
	t.Helper()
	return testutil.RequireReceive(t, result, 5*time.Second, what)
}

func requireEmpty(t *testing.T, result <-chan []byte, what string) {
	t.Helper()
	select {
	case frame := <-result:
		t.Fatalf("%s: unexpected frame %q", what, frame)
	default:
	}
}
