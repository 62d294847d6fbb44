// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/lib/testutil"
	"github.com/bureau-foundation/peertunnel/signaling"
)

type offererFixture struct {
	offerer  *Offerer
	peer     *fakePeer
	signaler *recordingSignaler
	handler  *recordingHandler

	mu     sync.Mutex
	states []State
}

func newOffererFixture(t *testing.T) *offererFixture {
	t.Helper()
	fixture := &offererFixture{
		peer:     &fakePeer{},
		signaler: &recordingSignaler{},
		handler:  newRecordingHandler(),
	}
	fixture.offerer = NewOfferer(OffererConfig{
		Signaler: fixture.signaler,
		Channel:  fixture.handler,
		NewPeer:  fakeFactory(fixture.peer),
		OnStateChange: func(state State) {
			fixture.mu.Lock()
			fixture.states = append(fixture.states, state)
			fixture.mu.Unlock()
		},
		Logger: discardLogger(),
	})
	return fixture
}

func (f *offererFixture) observed() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.states)
}

func mustMessage(t *testing.T, messageType string, data any) signaling.Message {
	t.Helper()
	message, err := signaling.NewMessage(messageType, data)
	if err != nil {
		t.Fatalf("NewMessage(%s): %v", messageType, err)
	}
	return message
}

func TestOfferer_StartCreatesChannelBeforeOffer(t *testing.T) {
	fixture := newOffererFixture(t)

	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantCalls := []string{"CreateDataChannel", "CreateOffer", "SetLocalDescription"}
	if !slices.Equal(fixture.peer.calls, wantCalls) {
		t.Errorf("calls = %v, want %v", fixture.peer.calls, wantCalls)
	}
	if got := fixture.offerer.State(); got != StateAwaitingAnswer {
		t.Errorf("state = %s, want %s", got, StateAwaitingAnswer)
	}
	if len(fixture.peer.channels) != 1 || fixture.peer.channels[0].label != ChannelLabel {
		t.Fatalf("channels = %v, want one %q channel", fixture.peer.channels, ChannelLabel)
	}
	if fixture.peer.channels[0].handler == nil {
		t.Error("data channel has no bound handler")
	}

	if types := fixture.signaler.types(); !slices.Equal(types, []string{signaling.TypeOffer}) {
		t.Fatalf("signaled = %v, want [offer]", types)
	}
	var offer webrtc.SessionDescription
	if err := fixture.signaler.messages[0].Decode(&offer); err != nil {
		t.Fatalf("decoding offer: %v", err)
	}
	if offer.SDP != "offer-sdp" || offer.Type != webrtc.SDPTypeOffer {
		t.Errorf("offer = %+v", offer)
	}
}

func TestOfferer_AnswerConnects(t *testing.T) {
	fixture := newOffererFixture(t)
	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeAnswer, answer)); err != nil {
		t.Fatalf("HandleSignal(answer): %v", err)
	}

	if got := fixture.offerer.State(); got != StateConnected {
		t.Errorf("state = %s, want %s", got, StateConnected)
	}
	if len(fixture.peer.remote) != 1 || fixture.peer.remote[0].SDP != "answer-sdp" {
		t.Errorf("remote descriptions = %+v", fixture.peer.remote)
	}
	want := []State{StateOffering, StateAwaitingAnswer, StateConnected}
	if got := fixture.observed(); !slices.Equal(got, want) {
		t.Errorf("observed states = %v, want %v", got, want)
	}

	// A second answer is stale and must not be applied.
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeAnswer, answer)); err != nil {
		t.Fatalf("HandleSignal(second answer): %v", err)
	}
	if len(fixture.peer.remote) != 1 {
		t.Errorf("stale answer applied: %d remote descriptions", len(fixture.peer.remote))
	}
}

func TestOfferer_RemoteCandidatesInAnyState(t *testing.T) {
	fixture := newOffererFixture(t)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}

	// Before Start there is no connection to apply it to.
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeICECandidate, candidate)); err != nil {
		t.Fatalf("HandleSignal before start: %v", err)
	}

	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeICECandidate, candidate)); err != nil {
		t.Fatalf("HandleSignal before answer: %v", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeAnswer, answer)); err != nil {
		t.Fatalf("HandleSignal(answer): %v", err)
	}
	if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeICECandidate, candidate)); err != nil {
		t.Fatalf("HandleSignal after answer: %v", err)
	}

	if len(fixture.peer.candidates) != 2 {
		t.Fatalf("applied %d candidates, want 2", len(fixture.peer.candidates))
	}
	if fixture.peer.candidates[0].Candidate != candidate.Candidate {
		t.Errorf("candidate = %q", fixture.peer.candidates[0].Candidate)
	}
}

func TestOfferer_LocalCandidates(t *testing.T) {
	fixture := newOffererFixture(t)
	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := fixture.peer.events
	events.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:a"})
	events.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:b"})
	events.OnICECandidate(nil)

	want := []string{signaling.TypeOffer, signaling.TypeICECandidate, signaling.TypeICECandidate}
	if got := fixture.signaler.types(); !slices.Equal(got, want) {
		t.Fatalf("signaled = %v, want %v", got, want)
	}
	var candidate webrtc.ICECandidateInit
	if err := fixture.signaler.messages[2].Decode(&candidate); err != nil {
		t.Fatalf("decoding candidate: %v", err)
	}
	if candidate.Candidate != "candidate:b" {
		t.Errorf("candidate = %q, want candidate:b", candidate.Candidate)
	}
}

func TestOfferer_ConnectionFailureTearsDown(t *testing.T) {
	for _, state := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
	} {
		t.Run(state.String(), func(t *testing.T) {
			fixture := newOffererFixture(t)
			var mirrored []webrtc.PeerConnectionState
			fixture.offerer.config.OnConnectionStateChange = func(state webrtc.PeerConnectionState) {
				mirrored = append(mirrored, state)
			}
			if err := fixture.offerer.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}
			fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeAnswer, answer))

			fixture.peer.events.OnConnectionStateChange(state)

			if got := fixture.offerer.State(); got != StateFailed {
				t.Errorf("state = %s, want %s", got, StateFailed)
			}
			if !slices.Equal(mirrored, []webrtc.PeerConnectionState{state}) {
				t.Errorf("mirrored = %v", mirrored)
			}
			channel := fixture.peer.channels[0]
			if !channel.isClosed() {
				t.Error("data channel not closed")
			}
			if !fixture.peer.isClosed() {
				t.Error("peer connection not closed")
			}
			closed := testutil.RequireReceive(t, fixture.handler.closed, time.Second, "channel closed event")
			if closed != DataChannel(channel) {
				t.Error("closed event for a different channel")
			}

			// The peer connection reporting closed afterwards is not a
			// second teardown.
			fixture.peer.events.OnConnectionStateChange(webrtc.PeerConnectionStateClosed)
			if got := fixture.offerer.State(); got != StateFailed {
				t.Errorf("state after close event = %s, want %s", got, StateFailed)
			}
			select {
			case <-fixture.handler.closed:
				t.Error("channel closed reported twice")
			default:
			}
		})
	}
}

func TestOfferer_Close(t *testing.T) {
	fixture := newOffererFixture(t)
	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fixture.offerer.Close()

	if got := fixture.offerer.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
	testutil.RequireReceive(t, fixture.handler.closed, time.Second, "channel closed event")

	// Candidates gathered after close are not forwarded.
	fixture.peer.events.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "late"})
	if got := fixture.signaler.types(); len(got) != 1 {
		t.Errorf("signaled after close: %v", got)
	}
}

func TestOfferer_StartTwice(t *testing.T) {
	fixture := newOffererFixture(t)
	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fixture.offerer.Start(); !errors.Is(err, ErrHandshakeStarted) {
		t.Errorf("second Start error = %v, want ErrHandshakeStarted", err)
	}
}

func TestOfferer_SetupFailures(t *testing.T) {
	t.Run("signaling", func(t *testing.T) {
		fixture := newOffererFixture(t)
		fixture.signaler.err = errors.New("socket gone")
		if err := fixture.offerer.Start(); err == nil {
			t.Fatal("Start succeeded with a broken signaler")
		}
		if got := fixture.offerer.State(); got != StateFailed {
			t.Errorf("state = %s, want %s", got, StateFailed)
		}
		testutil.RequireReceive(t, fixture.handler.closed, time.Second, "channel closed event")
	})

	t.Run("peer", func(t *testing.T) {
		offerer := NewOfferer(OffererConfig{
			Signaler: &recordingSignaler{},
			NewPeer: func(ICEConfig, PeerEvents) (PeerConnection, error) {
				return nil, errors.New("no ICE agent")
			},
			Logger: discardLogger(),
		})
		if err := offerer.Start(); err == nil {
			t.Fatal("Start succeeded without a peer connection")
		}
		if got := offerer.State(); got != StateFailed {
			t.Errorf("state = %s, want %s", got, StateFailed)
		}
	})

	t.Run("answer", func(t *testing.T) {
		fixture := newOffererFixture(t)
		fixture.peer.remoteErr = errors.New("bad sdp")
		if err := fixture.offerer.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "garbage"}
		if err := fixture.offerer.HandleSignal(mustMessage(t, signaling.TypeAnswer, answer)); err == nil {
			t.Fatal("HandleSignal accepted an unusable answer")
		}
		if got := fixture.offerer.State(); got != StateFailed {
			t.Errorf("state = %s, want %s", got, StateFailed)
		}
	})
}

func TestOfferer_RunStopsWhenInboundCloses(t *testing.T) {
	fixture := newOffererFixture(t)
	if err := fixture.offerer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	inbound := make(chan signaling.ServerMessage, 2)
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}
	inbound <- signaling.ServerMessage{Message: mustMessage(t, signaling.TypeAnswer, answer)}
	close(inbound)

	done := make(chan error, 1)
	go func() { done <- fixture.offerer.Run(context.Background(), inbound) }()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run to return"); err != nil {
		t.Errorf("Run: %v", err)
	}
	if got := fixture.offerer.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
	if len(fixture.peer.remote) != 1 {
		t.Error("answer delivered through Run was not applied")
	}
}

func TestAnswerer_AnswerPrecedesCandidates(t *testing.T) {
	peer := &fakePeer{}
	signaler := &recordingSignaler{}
	closed := make(chan struct{}, 2)

	answerer, err := NewAnswerer("client-1", AnswererConfig{
		Signaler: signaler,
		NewPeer:  fakeFactory(peer),
		OnClosed: func() { closed <- struct{}{} },
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAnswerer: %v", err)
	}
	peer.onSetLocal = func() {
		peer.events.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:host"})
	}

	if err := answerer.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	want := []string{signaling.TypeAnswer, signaling.TypeICECandidate}
	if got := signaler.types(); !slices.Equal(got, want) {
		t.Fatalf("signaled = %v, want %v", got, want)
	}
	for _, message := range signaler.messages {
		if message.ClientID != "client-1" {
			t.Errorf("%s addressed to %q, want client-1", message.Type, message.ClientID)
		}
	}

	peer.events.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)
	answerer.Close()
	testutil.RequireReceive(t, closed, time.Second, "OnClosed")
	select {
	case <-closed:
		t.Error("OnClosed ran twice")
	default:
	}
}

func TestAnswerer_RoutesDataChannels(t *testing.T) {
	peer := &fakePeer{}
	opened := make(chan DataChannel, 1)
	_, err := NewAnswerer("client-1", AnswererConfig{
		Signaler:      &recordingSignaler{},
		NewPeer:       fakeFactory(peer),
		OnDataChannel: func(channel DataChannel) { opened <- channel },
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAnswerer: %v", err)
	}

	peer.events.OnDataChannel(&fakeChannel{label: ChannelLabel})
	channel := testutil.RequireReceive(t, opened, time.Second, "data channel")
	if channel.Label() != ChannelLabel {
		t.Errorf("label = %q", channel.Label())
	}
}

func TestMemorySignaler(t *testing.T) {
	signaler := NewMemorySignaler("client-7")

	signaler.Send(signaling.Message{Type: signaling.TypeOffer})
	atAnswerer := testutil.RequireReceive(t, signaler.AnswererInbound(), time.Second, "offer")
	if atAnswerer.ClientID != "client-7" || atAnswerer.Type != signaling.TypeOffer {
		t.Errorf("answerer got %+v", atAnswerer)
	}

	signaler.SendTo("someone-else", signaling.Message{Type: signaling.TypeAnswer})
	signaler.SendTo("client-7", signaling.Message{Type: signaling.TypeAnswer})
	atOfferer := testutil.RequireReceive(t, signaler.OffererInbound(), time.Second, "answer")
	if atOfferer.Type != signaling.TypeAnswer || atOfferer.ClientID != "" {
		t.Errorf("offerer got %+v", atOfferer)
	}
	select {
	case extra := <-signaler.OffererInbound():
		t.Errorf("message for another client delivered: %+v", extra)
	default:
	}
}
