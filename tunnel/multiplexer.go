// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jpillora/sizestr"

	"github.com/bureau-foundation/peertunnel/lib/fragment"
	"github.com/bureau-foundation/peertunnel/lib/wire"
	"github.com/bureau-foundation/peertunnel/transport"
)

// Compile-time interface check.
var _ transport.ChannelHandler = (*Multiplexer)(nil)

// MultiplexerConfig configures a Multiplexer.
type MultiplexerConfig struct {
	// MaxChunk bounds each data channel message. Zero uses
	// fragment.MaxChunk.
	MaxChunk int

	Logger *slog.Logger
}

// Multiplexer owns the open data channel of the current peer session
// and correlates serialized requests with their responses.
//
// It is the ChannelHandler of the offering handshake: an opened channel
// becomes the session, replacing any previous one; a closed channel
// ends it. Frames carry no identifier, so correlation relies on the
// responder answering in arrival order over the ordered channel: the
// k-th completed response transfer resolves the k-th outstanding
// request of the session.
type Multiplexer struct {
	maxChunk int
	logger   *slog.Logger

	// sendMu keeps one request's fragments contiguous on the channel
	// and its identifier's position in the session order consistent
	// with its position on the wire.
	sendMu sync.Mutex

	mu      sync.Mutex
	session *session
	nextID  uint64
	pending map[uint64]*pendingEntry
}

// session is one open data channel and the receive state tied to it.
type session struct {
	channel     transport.DataChannel
	reassembler fragment.Reassembler

	// order holds the identifiers sent on this channel whose response
	// has not arrived, oldest first. An identifier stays here after its
	// entry is abandoned, because its response still occupies a slot
	// in the reply stream.
	order []uint64
}

// pendingEntry is the resolver of one in-flight request. Whoever
// removes it from the pending map under the lock resolves it.
type pendingEntry struct {
	id      uint64
	session *session
	result  chan []byte
}

// NewMultiplexer creates a multiplexer with no session.
func NewMultiplexer(config MultiplexerConfig) *Multiplexer {
	if config.MaxChunk <= 0 {
		config.MaxChunk = fragment.MaxChunk
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		maxChunk: config.MaxChunk,
		logger:   logger,
		pending:  make(map[uint64]*pendingEntry),
	}
}

// Send dispatches a serialized request and returns a channel that
// receives exactly one serialized response. With no open session it
// receives the 503 unavailable frame immediately and nothing is
// written. If the session ends first it receives the 502 bad gateway
// frame.
func (m *Multiplexer) Send(request []byte) <-chan []byte {
	result := make(chan []byte, 1)
	m.dispatch(request, result)
	return result
}

// RoundTrip sends request and waits for its response. If ctx ends
// first the request is abandoned: its eventual response is discarded
// and ctx's error is returned.
func (m *Multiplexer) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	result := make(chan []byte, 1)
	id := m.dispatch(request, result)
	select {
	case response := <-result:
		return response, nil
	case <-ctx.Done():
		if entry := m.take(id); entry == nil {
			// Resolved while we were giving up.
			return <-result, nil
		}
		m.logger.Debug("request abandoned", "id", id, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// dispatch implements Send and returns the assigned identifier, or zero
// when no session was open.
func (m *Multiplexer) dispatch(request []byte, result chan []byte) uint64 {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	current := m.session
	if current == nil {
		m.mu.Unlock()
		m.logger.Debug("no tunnel session, answering unavailable", "size", sizestr.ToString(int64(len(request))))
		result <- wire.UnavailableFrame()
		return 0
	}
	m.nextID++
	id := m.nextID
	// Registered before the first write so a response can never find
	// an empty table.
	m.pending[id] = &pendingEntry{id: id, session: current, result: result}
	current.order = append(current.order, id)
	m.mu.Unlock()

	chunks := fragment.Split(request, m.maxChunk)
	for _, chunk := range chunks {
		if err := current.channel.Send(chunk); err != nil {
			// A partly written frame leaves the remote's framing
			// unusable, so the whole session goes.
			m.logger.Warn("data channel write failed", "id", id, "error", err)
			m.endSession(current, true)
			return id
		}
	}

	m.logger.Debug("request sent",
		"id", id,
		"size", sizestr.ToString(int64(len(request))),
		"chunks", len(chunks),
	)
	return id
}

// ChannelOpen makes channel the current session. A previous session is
// ended: its channel is closed and its pending requests fail with 502.
func (m *Multiplexer) ChannelOpen(channel transport.DataChannel) {
	m.mu.Lock()
	previous := m.session
	m.session = &session{channel: channel}
	m.mu.Unlock()

	m.logger.Info("tunnel session open", "label", channel.Label())
	if previous != nil {
		m.endSession(previous, true)
	}
}

// ChannelMessage feeds one chunk to the session's reassembler. A
// completed transfer resolves the oldest outstanding request.
func (m *Multiplexer) ChannelMessage(channel transport.DataChannel, data []byte) {
	m.mu.Lock()
	current := m.session
	if current == nil || current.channel != channel {
		m.mu.Unlock()
		m.logger.Debug("discarding message from a stale channel", "size", len(data))
		return
	}
	frame, complete := current.reassembler.Push(data)
	if !complete {
		m.mu.Unlock()
		return
	}
	if len(current.order) == 0 {
		m.mu.Unlock()
		m.logger.Warn("response with no outstanding request, discarding", "size", sizestr.ToString(int64(len(frame))))
		return
	}
	id := current.order[0]
	current.order = current.order[1:]
	entry, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("response for unknown request, discarding", "id", id, "size", sizestr.ToString(int64(len(frame))))
		return
	}
	m.logger.Debug("response received", "id", id, "size", sizestr.ToString(int64(len(frame))))
	entry.result <- frame
}

// ChannelClosed ends the session on channel, failing its pending
// requests with 502. Events for a channel that is no longer current
// are ignored.
func (m *Multiplexer) ChannelClosed(channel transport.DataChannel) {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current == nil || current.channel != channel {
		return
	}
	m.endSession(current, false)
}

// Close ends the current session, closing its channel.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current != nil {
		m.endSession(current, true)
	}
	return nil
}

// Open reports whether a session is open.
func (m *Multiplexer) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Pending returns the number of unresolved requests.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// endSession detaches ended from the multiplexer and resolves every
// entry it still owns with the 502 frame. Each entry resolves at most
// once: resolution and removal happen under one lock hold.
func (m *Multiplexer) endSession(ended *session, closeChannel bool) {
	m.mu.Lock()
	if m.session == ended {
		m.session = nil
	}
	var failed []*pendingEntry
	for _, id := range ended.order {
		if entry, ok := m.pending[id]; ok {
			delete(m.pending, id)
			failed = append(failed, entry)
		}
	}
	ended.order = nil
	m.mu.Unlock()

	if closeChannel {
		ended.channel.Close()
	}
	if len(failed) > 0 {
		m.logger.Warn("tunnel session ended with requests in flight", "failed", len(failed))
	} else {
		m.logger.Info("tunnel session ended")
	}
	for _, entry := range failed {
		entry.result <- wire.BadGatewayFrame()
	}
}

// take removes and returns the pending entry for id, or nil if it was
// already resolved.
func (m *Multiplexer) take(id uint64) *pendingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	return entry
}
