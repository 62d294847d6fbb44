// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/signaling"
)

// AnswererConfig configures an Answerer.
type AnswererConfig struct {
	ICE ICEConfig

	// Signaler carries the answer and local candidates back to the
	// offering peer. Required.
	Signaler ClientSignaler

	// OnDataChannel receives each channel the offering peer opens.
	// Bind a handler to it before returning.
	OnDataChannel func(channel DataChannel)

	// OnClosed runs once when the peer connection fails or closes.
	OnClosed func()

	// NewPeer creates the peer connection. Nil uses NewPionPeer.
	NewPeer PeerFactory

	Logger *slog.Logger
}

// Answerer is the answering side of one peer session, bound to one
// offering client of the signaling room.
type Answerer struct {
	clientID string
	config   AnswererConfig
	logger   *slog.Logger
	peer     PeerConnection

	closeOnce sync.Once
}

// NewAnswerer creates the peer connection for clientID. Local
// candidates are sent to the client as they are gathered.
func NewAnswerer(clientID string, config AnswererConfig) (*Answerer, error) {
	if config.NewPeer == nil {
		config.NewPeer = NewPionPeer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Answerer{
		clientID: clientID,
		config:   config,
		logger:   logger.With("client", clientID),
	}

	peer, err := config.NewPeer(config.ICE, PeerEvents{
		OnICECandidate:          a.handleLocalCandidate,
		OnConnectionStateChange: a.handleConnectionState,
		OnDataChannel:           a.handleDataChannel,
	})
	if err != nil {
		return nil, err
	}
	a.peer = peer
	return a, nil
}

// ClientID returns the signaling id of the offering peer.
func (a *Answerer) ClientID() string {
	return a.clientID
}

// HandleOffer applies the client's offer and sends the answer. The
// answer is sent before it becomes the local description, so it reaches
// the client ahead of every local candidate.
func (a *Answerer) HandleOffer(offer webrtc.SessionDescription) error {
	if err := a.peer.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := a.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	message, err := signaling.NewMessage(signaling.TypeAnswer, answer)
	if err != nil {
		return err
	}
	if err := a.config.Signaler.SendTo(a.clientID, message); err != nil {
		return fmt.Errorf("sending answer: %w", err)
	}
	if err := a.peer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	a.logger.Info("answer sent")
	return nil
}

// AddICECandidate applies a candidate sent by the client.
func (a *Answerer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return a.peer.AddICECandidate(candidate)
}

// Close closes the peer connection. OnClosed runs once.
func (a *Answerer) Close() error {
	err := a.peer.Close()
	a.closed()
	return err
}

func (a *Answerer) handleLocalCandidate(candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		return
	}
	message, err := signaling.NewMessage(signaling.TypeICECandidate, candidate)
	if err != nil {
		a.logger.Warn("encoding local candidate failed", "error", err)
		return
	}
	if err := a.config.Signaler.SendTo(a.clientID, message); err != nil {
		a.logger.Warn("sending local candidate failed", "error", err)
	}
}

func (a *Answerer) handleConnectionState(state webrtc.PeerConnectionState) {
	a.logger.Info("peer connection state changed", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		a.Close()
	}
}

func (a *Answerer) handleDataChannel(channel DataChannel) {
	a.logger.Info("data channel opened by client", "label", channel.Label())
	if a.config.OnDataChannel != nil {
		a.config.OnDataChannel(channel)
	}
}

func (a *Answerer) closed() {
	a.closeOnce.Do(func() {
		if a.config.OnClosed != nil {
			a.config.OnClosed()
		}
	})
}
