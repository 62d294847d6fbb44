// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpillora/sizestr"

	"github.com/bureau-foundation/peertunnel/lib/netutil"
)

// Tunnel carries serialized requests to the remote peer. Send never
// blocks on the reply: the returned channel receives exactly one
// serialized response, synthetic or real. tunnel.Multiplexer implements
// it.
type Tunnel interface {
	Send(request []byte) <-chan []byte
}

// Page serves the link on a Unix socket on behalf of the tunneling page.
// Every request message received on an attached link is sent through the
// tunnel and answered with a response message carrying the same ID.
type Page struct {
	// SocketPath is the Unix socket to listen on. A stale socket file
	// is removed and its directory created.
	SocketPath string

	// Tunnel carries the requests. Required.
	Tunnel Tunnel

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-request events are logged at Debug level.
	Logger *slog.Logger

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (p *Page) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Start binds the socket and begins accepting links in the background.
// It returns once the listener is accepting, or an error if binding
// fails. The page runs until Stop is called or ctx is cancelled.
func (p *Page) Start(ctx context.Context) error {
	if p.SocketPath == "" {
		return fmt.Errorf("bridge: SocketPath is required")
	}
	if p.Tunnel == nil {
		return fmt.Errorf("bridge: Tunnel is required")
	}

	if err := os.MkdirAll(filepath.Dir(p.SocketPath), 0o700); err != nil {
		return fmt.Errorf("bridge: creating socket directory: %w", err)
	}
	if err := os.Remove(p.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bridge: removing stale socket %s: %w", p.SocketPath, err)
	}

	listener, err := net.Listen("unix", p.SocketPath)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", p.SocketPath, err)
	}
	p.listener = listener

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.acceptLoop(ctx)
	}()

	p.logger().Info("page link listening", "socket_path", p.SocketPath)
	return nil
}

// Addr returns the listener's address, or nil before Start.
func (p *Page) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop closes the listener and every attached link, and waits for the
// link goroutines to finish.
func (p *Page) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	if p.done != nil {
		<-p.done
	}
}

// Wait blocks until the page has stopped.
func (p *Page) Wait() {
	if p.done != nil {
		<-p.done
	}
}

// acceptLoop accepts links until ctx is cancelled. It waits for all
// link goroutines before returning, so closing done signals quiescence.
func (p *Page) acceptLoop(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { p.listener.Close() })
	defer stop()

	var linkCount int64
	for {
		connection, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				p.connections.Wait()
				return
			}
			p.logger().Error("accept failed", "error", err)
			continue
		}

		linkCount++
		linkID := linkCount
		p.connections.Add(1)
		go func() {
			defer p.connections.Done()
			p.handleLink(ctx, newLink(connection), linkID)
		}()
	}
}

// handleLink reads request messages until the link closes. Requests are
// handed to the tunnel in link order; replies are written as they
// resolve.
func (p *Page) handleLink(ctx context.Context, current *link, linkID int64) {
	defer current.close()
	stop := context.AfterFunc(ctx, func() { current.close() })
	defer stop()

	logger := p.logger().With("link_id", linkID)
	logger.Info("interception link attached")

	for {
		message, err := current.receive()
		if err != nil {
			if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
				logger.Info("interception link closed")
			} else {
				logger.Warn("interception link failed", "error", err)
			}
			return
		}

		if message.Type != TypeRequest {
			logger.Warn("ignoring link message", "type", message.Type, "id", message.ID)
			continue
		}
		if len(message.Serialized) == 0 {
			p.reply(current, Message{Type: TypeResponse, ID: message.ID, Error: "empty request frame"}, logger)
			continue
		}

		logger.Debug("tunneling request",
			"id", message.ID,
			"method", message.Method,
			"url", message.URL,
			"size", sizestr.ToString(int64(len(message.Serialized))),
		)
		result := p.Tunnel.Send(message.Serialized)
		go func(id uint64) {
			frame := <-result
			p.reply(current, Message{Type: TypeResponse, ID: id, Serialized: frame}, logger)
		}(message.ID)
	}
}

func (p *Page) reply(current *link, message Message, logger *slog.Logger) {
	if err := current.send(message); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			logger.Warn("writing reply failed", "id", message.ID, "error", err)
		}
		return
	}
	logger.Debug("reply sent", "id", message.ID, "size", sizestr.ToString(int64(len(message.Serialized))))
}
