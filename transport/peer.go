// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ChannelLabel is the label of the application data channel that
// carries tunneled HTTP frames.
const ChannelLabel = "http"

// DataChannel is one message-oriented application data channel. Every
// Send delivers exactly one message, zero-length messages included.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	Close() error

	// Bind routes the channel's open, message and close events to
	// handler. Call it before the channel opens.
	Bind(handler ChannelHandler)
}

// ChannelHandler receives data channel events. Message events for one
// channel are delivered one at a time, in arrival order.
type ChannelHandler interface {
	ChannelOpen(channel DataChannel)
	ChannelMessage(channel DataChannel, data []byte)
	ChannelClosed(channel DataChannel)
}

// PeerConnection is the part of a WebRTC peer connection the handshakes
// drive. [NewPionPeer] provides the production implementation; tests
// substitute fakes and inject events directly.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(description webrtc.SessionDescription) error
	SetRemoteDescription(description webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerEvents are the callbacks a PeerConnection raises. Nil fields are
// ignored.
type PeerEvents struct {
	// OnICECandidate receives each locally gathered candidate. A nil
	// candidate marks the end of gathering.
	OnICECandidate func(candidate *webrtc.ICECandidateInit)

	// OnConnectionStateChange receives every connection state change.
	OnConnectionStateChange func(state webrtc.PeerConnectionState)

	// OnDataChannel receives channels opened by the remote peer.
	OnDataChannel func(channel DataChannel)
}

// PeerFactory creates a peer connection wired to events.
type PeerFactory func(config ICEConfig, events PeerEvents) (PeerConnection, error)

// NewPionPeer creates a pion/webrtc peer connection.
func NewPionPeer(config ICEConfig, events PeerEvents) (PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	connection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if events.OnICECandidate == nil {
			return
		}
		if candidate == nil {
			events.OnICECandidate(nil)
			return
		}
		init := candidate.ToJSON()
		events.OnICECandidate(&init)
	})
	if events.OnConnectionStateChange != nil {
		connection.OnConnectionStateChange(events.OnConnectionStateChange)
	}
	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		if events.OnDataChannel != nil {
			events.OnDataChannel(&pionChannel{channel: channel})
		}
	})

	return &pionPeer{connection: connection}, nil
}

type pionPeer struct {
	connection *webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	channel, err := p.connection.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}
	return &pionChannel{channel: channel}, nil
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.connection.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.connection.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(description webrtc.SessionDescription) error {
	return p.connection.SetLocalDescription(description)
}

func (p *pionPeer) SetRemoteDescription(description webrtc.SessionDescription) error {
	return p.connection.SetRemoteDescription(description)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.connection.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.connection.Close()
}

// pionChannel sends binary messages on a pion data channel.
type pionChannel struct {
	channel *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.channel.Label() }

func (c *pionChannel) Send(data []byte) error { return c.channel.Send(data) }

func (c *pionChannel) Close() error { return c.channel.Close() }

func (c *pionChannel) Bind(handler ChannelHandler) {
	if handler == nil {
		return
	}
	c.channel.OnOpen(func() {
		handler.ChannelOpen(c)
	})
	c.channel.OnMessage(func(message webrtc.DataChannelMessage) {
		handler.ChannelMessage(c, message.Data)
	})
	c.channel.OnClose(func() {
		handler.ChannelClosed(c)
	})
}
