// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/signaling"
)

// State is the offering peer's handshake state.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// ErrHandshakeStarted is returned by Start on a handshake that has
// already left the idle state.
var ErrHandshakeStarted = errors.New("handshake already started")

// OffererConfig configures an Offerer.
type OffererConfig struct {
	// ICE configures candidate gathering.
	ICE ICEConfig

	// Signaler carries the offer and local candidates to the answering
	// peer. Required.
	Signaler Signaler

	// Channel receives the application data channel's events. A failed
	// or closed handshake reports ChannelClosed to it exactly as if the
	// channel had closed on its own.
	Channel ChannelHandler

	// NewPeer creates the peer connection. Nil uses NewPionPeer.
	NewPeer PeerFactory

	// OnStateChange observes handshake transitions.
	OnStateChange func(State)

	// OnConnectionStateChange observes the underlying connection state
	// for status display.
	OnConnectionStateChange func(webrtc.PeerConnectionState)

	Logger *slog.Logger
}

// Offerer drives the offering side of one peer session: it creates the
// peer connection and the application data channel, sends the offer,
// trickles candidates, and applies the answer and remote candidates.
//
// Each inbound event has its own handler (HandleSignal,
// HandleLocalCandidate, HandleConnectionState), so tests can drive the
// state machine with synthetic events and a fake PeerConnection.
type Offerer struct {
	config OffererConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	peer    PeerConnection
	channel DataChannel
}

// NewOfferer creates an idle handshake.
func NewOfferer(config OffererConfig) *Offerer {
	if config.NewPeer == nil {
		config.NewPeer = NewPionPeer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Offerer{
		config: config,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the current handshake state.
func (o *Offerer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start moves Idle to Offering, creates the peer connection and the
// data channel, sends the offer, and moves to AwaitingAnswer. The data
// channel is created before the offer so the offer negotiates it. Any
// setup failure moves the handshake to Failed and is returned.
func (o *Offerer) Start() error {
	if !o.transition(StateIdle, StateOffering) {
		return fmt.Errorf("%w (state %s)", ErrHandshakeStarted, o.State())
	}

	peer, err := o.config.NewPeer(o.config.ICE, PeerEvents{
		OnICECandidate:          o.HandleLocalCandidate,
		OnConnectionStateChange: o.HandleConnectionState,
	})
	if err != nil {
		o.teardown(StateFailed, err)
		return err
	}

	channel, err := peer.CreateDataChannel(ChannelLabel)
	if err != nil {
		peer.Close()
		o.teardown(StateFailed, err)
		return err
	}
	channel.Bind(o.config.Channel)

	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		channel.Close()
		peer.Close()
		return fmt.Errorf("handshake %s during setup", o.State())
	}
	o.peer = peer
	o.channel = channel
	o.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		err = fmt.Errorf("creating offer: %w", err)
		o.teardown(StateFailed, err)
		return err
	}
	message, err := signaling.NewMessage(signaling.TypeOffer, offer)
	if err != nil {
		o.teardown(StateFailed, err)
		return err
	}
	if err := o.config.Signaler.Send(message); err != nil {
		err = fmt.Errorf("sending offer: %w", err)
		o.teardown(StateFailed, err)
		return err
	}
	o.transition(StateOffering, StateAwaitingAnswer)

	// Gathering starts here, so every candidate follows the offer on
	// the signaling channel.
	if err := peer.SetLocalDescription(offer); err != nil {
		err = fmt.Errorf("setting local description: %w", err)
		o.teardown(StateFailed, err)
		return err
	}

	o.logger.Info("offer sent")
	return nil
}

// HandleSignal dispatches one inbound signaling message by type. An
// answer completes the handshake; candidates are applied immediately in
// any state once the peer connection exists. Answers arriving outside
// AwaitingAnswer are ignored.
func (o *Offerer) HandleSignal(message signaling.Message) error {
	switch message.Type {
	case signaling.TypeAnswer:
		var answer webrtc.SessionDescription
		if err := message.Decode(&answer); err != nil {
			return fmt.Errorf("decoding answer: %w", err)
		}
		return o.handleAnswer(answer)

	case signaling.TypeICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := message.Decode(&candidate); err != nil {
			return fmt.Errorf("decoding candidate: %w", err)
		}
		return o.handleRemoteCandidate(candidate)

	case signaling.TypeError:
		var reason string
		message.Decode(&reason)
		o.logger.Error("signaling server reported an error", "reason", reason)
		return nil

	default:
		o.logger.Debug("ignoring signaling message", "type", message.Type)
		return nil
	}
}

func (o *Offerer) handleAnswer(answer webrtc.SessionDescription) error {
	o.mu.Lock()
	state, peer := o.state, o.peer
	o.mu.Unlock()

	if state != StateAwaitingAnswer {
		o.logger.Warn("ignoring answer", "state", state)
		return nil
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		err = fmt.Errorf("setting remote description: %w", err)
		o.teardown(StateFailed, err)
		return err
	}
	if o.transition(StateAwaitingAnswer, StateConnected) {
		o.logger.Info("answer applied")
	}
	return nil
}

func (o *Offerer) handleRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()

	if peer == nil {
		o.logger.Warn("ignoring candidate with no peer connection", "state", o.State())
		return nil
	}
	if err := peer.AddICECandidate(candidate); err != nil {
		// One unusable candidate does not sink the session; ICE tries
		// the rest.
		o.logger.Warn("adding remote candidate failed", "error", err)
	}
	return nil
}

// HandleLocalCandidate forwards a locally gathered candidate to the
// answering peer. The nil end-of-gathering candidate is not forwarded.
func (o *Offerer) HandleLocalCandidate(candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		o.logger.Debug("candidate gathering complete")
		return
	}
	if o.State().Terminal() {
		return
	}
	message, err := signaling.NewMessage(signaling.TypeICECandidate, candidate)
	if err != nil {
		o.logger.Warn("encoding local candidate failed", "error", err)
		return
	}
	if err := o.config.Signaler.Send(message); err != nil {
		o.logger.Warn("sending local candidate failed", "error", err)
	}
}

// HandleConnectionState mirrors a connection state change to the
// observer. Failed and disconnected connections fail the handshake; a
// closed connection closes it.
func (o *Offerer) HandleConnectionState(state webrtc.PeerConnectionState) {
	o.logger.Info("peer connection state changed", "state", state.String())
	if o.config.OnConnectionStateChange != nil {
		o.config.OnConnectionStateChange(state)
	}

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		o.teardown(StateFailed, fmt.Errorf("peer connection %s", state))
	case webrtc.PeerConnectionStateClosed:
		o.teardown(StateClosed, nil)
	}
}

// Close ends the session from any state.
func (o *Offerer) Close() error {
	o.teardown(StateClosed, nil)
	return nil
}

// Run feeds inbound signaling messages to HandleSignal until inbound is
// closed or ctx is cancelled, then closes the handshake. Decoding
// failures are logged and do not stop the loop.
func (o *Offerer) Run(ctx context.Context, inbound <-chan signaling.ServerMessage) error {
	defer o.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := o.HandleSignal(message.Message); err != nil {
				o.logger.Warn("handling signaling message failed", "type", message.Type, "error", err)
			}
		}
	}
}

// transition moves from one state to another and reports whether it
// did. The observer runs outside the lock.
func (o *Offerer) transition(from, to State) bool {
	o.mu.Lock()
	if o.state != from {
		o.mu.Unlock()
		return false
	}
	o.state = to
	o.mu.Unlock()

	o.logger.Debug("handshake state", "from", from, "to", to)
	if o.config.OnStateChange != nil {
		o.config.OnStateChange(to)
	}
	return true
}

// teardown moves to a terminal state once. The data channel and the
// peer connection are closed and the channel handler is told the
// channel is gone, so pending work on it resolves.
func (o *Offerer) teardown(final State, cause error) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	from := o.state
	o.state = final
	peer, channel := o.peer, o.channel
	o.peer, o.channel = nil, nil
	o.mu.Unlock()

	if cause != nil {
		o.logger.Error("handshake failed", "from", from, "error", cause)
	} else {
		o.logger.Info("handshake closed", "from", from)
	}

	if channel != nil {
		channel.Close()
		if o.config.Channel != nil {
			o.config.Channel.ChannelClosed(channel)
		}
	}
	if peer != nil {
		peer.Close()
	}
	if o.config.OnStateChange != nil {
		o.config.OnStateChange(final)
	}
}
