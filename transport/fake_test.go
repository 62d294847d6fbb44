// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePeer records every call made by a handshake. Tests raise
// connection events through its stored PeerEvents.
type fakePeer struct {
	mu         sync.Mutex
	events     PeerEvents
	calls      []string
	channels   []*fakeChannel
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	// onSetLocal runs inside SetLocalDescription, standing in for
	// gathering that starts there.
	onSetLocal func()

	remoteErr error
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePeer) CreateDataChannel(label string) (DataChannel, error) {
	p.record("CreateDataChannel")
	channel := &fakeChannel{label: label}
	p.mu.Lock()
	p.channels = append(p.channels, channel)
	p.mu.Unlock()
	return channel, nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.record("CreateOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("CreateAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(description webrtc.SessionDescription) error {
	p.record("SetLocalDescription")
	p.mu.Lock()
	p.local = append(p.local, description)
	hook := p.onSetLocal
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(description webrtc.SessionDescription) error {
	p.record("SetRemoteDescription")
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.mu.Lock()
	p.remote = append(p.remote, description)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.record("AddICECandidate")
	p.mu.Lock()
	p.candidates = append(p.candidates, candidate)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.record("Close")
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeFactory returns a PeerFactory handing out peer and capturing the
// events it was created with.
func fakeFactory(peer *fakePeer) PeerFactory {
	return func(_ ICEConfig, events PeerEvents) (PeerConnection, error) {
		peer.mu.Lock()
		peer.events = events
		peer.mu.Unlock()
		return peer, nil
	}
}

type fakeChannel struct {
	label string

	mu      sync.Mutex
	handler ChannelHandler
	sent    [][]byte
	closed  bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Bind(handler ChannelHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recordingSignaler stores sent messages in order.
type recordingSignaler struct {
	mu       sync.Mutex
	messages []signaling.ServerMessage
	err      error
}

func (s *recordingSignaler) Send(message signaling.Message) error {
	return s.SendTo("", message)
}

func (s *recordingSignaler) SendTo(clientID string, message signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, signaling.ServerMessage{Message: message, ClientID: clientID})
	return nil
}

func (s *recordingSignaler) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.messages))
	for index, message := range s.messages {
		types[index] = message.Type
	}
	return types
}

// recordingHandler buffers channel events for assertions.
type recordingHandler struct {
	opened   chan DataChannel
	messages chan []byte
	closed   chan DataChannel
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan DataChannel, 8),
		messages: make(chan []byte, 64),
		closed:   make(chan DataChannel, 8),
	}
}

func (h *recordingHandler) ChannelOpen(channel DataChannel) { h.opened <- channel }

func (h *recordingHandler) ChannelMessage(_ DataChannel, data []byte) {
	h.messages <- append([]byte(nil), data...)
}

func (h *recordingHandler) ChannelClosed(channel DataChannel) { h.closed <- channel }
