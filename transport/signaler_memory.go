// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/bureau-foundation/peertunnel/signaling"

// Compile-time interface checks.
var (
	_ Signaler       = (*MemorySignaler)(nil)
	_ ClientSignaler = (*MemorySignaler)(nil)
)

// MemorySignaler is an in-process signaling link between one offering
// peer and one answering peer, bypassing the websocket server. The
// offering side reads OffererInbound and sends with Send; the answering
// side reads AnswererInbound and sends with SendTo. Messages are
// delivered in send order in each direction.
type MemorySignaler struct {
	clientID string
	offerer  chan signaling.ServerMessage
	answerer chan signaling.ServerMessage
}

// NewMemorySignaler creates a link on which the offering peer is known
// to the answering peer as clientID.
func NewMemorySignaler(clientID string) *MemorySignaler {
	return &MemorySignaler{
		clientID: clientID,
		offerer:  make(chan signaling.ServerMessage, 64),
		answerer: make(chan signaling.ServerMessage, 64),
	}
}

// Send delivers a message from the offering peer to the answering peer.
func (s *MemorySignaler) Send(message signaling.Message) error {
	s.answerer <- signaling.ServerMessage{Message: message, ClientID: s.clientID}
	return nil
}

// SendTo delivers a message from the answering peer to the offering
// peer. Messages for any other client are dropped, as the signaling
// server drops messages for departed clients.
func (s *MemorySignaler) SendTo(clientID string, message signaling.Message) error {
	if clientID != s.clientID {
		return nil
	}
	s.offerer <- signaling.ServerMessage{Message: message}
	return nil
}

// OffererInbound delivers messages addressed to the offering peer.
func (s *MemorySignaler) OffererInbound() <-chan signaling.ServerMessage {
	return s.offerer
}

// AnswererInbound delivers messages addressed to the answering peer,
// tagged with the offering peer's client id.
func (s *MemorySignaler) AnswererInbound() <-chan signaling.ServerMessage {
	return s.answerer
}
