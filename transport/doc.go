// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport establishes the peer session that carries tunneled
// HTTP frames: one WebRTC peer connection with one ordered, binary data
// channel labeled "http".
//
// [Offerer] is the offering side's handshake, an explicit state machine
// (idle, offering, awaiting-answer, connected, closed, failed) with one
// handler per inbound event. It creates the data channel before the
// offer, trickles local candidates over a [Signaler] as they are
// gathered, applies remote candidates in any state, and on failure
// closes the channel and reports it to the [ChannelHandler] so pending
// work resolves.
//
// [Answerer] is the answering side for one offering client, sending
// through a [ClientSignaler] that addresses messages by client id.
//
// Both sides talk to a [PeerConnection] and [DataChannel] rather than
// pion types directly. [NewPionPeer] is the pion/webrtc implementation;
// tests inject fakes. [MemorySignaler] links an offerer and an answerer
// in process. [ICEConfig] holds the STUN and TURN servers.
package transport
