// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/bureau-foundation/peertunnel/signaling"

// Signaler sends handshake messages from the offering peer.
// signaling.Client implements it for client-role connections.
type Signaler interface {
	Send(message signaling.Message) error
}

// ClientSignaler sends handshake messages from the answering peer to one
// offering peer. signaling.Client implements it for the server-role
// connection.
type ClientSignaler interface {
	SendTo(clientID string, message signaling.Message) error
}
