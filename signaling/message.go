// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"fmt"
)

// Message types carried on the signaling link.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "icecandidate"
	TypeError        = "error"
)

// Role selects which side of a room a connection joins.
type Role string

const (
	// RoleClient is the offering peer (the tunneling page).
	RoleClient Role = "client"
	// RoleServer is the answering peer (the tunnel exit).
	RoleServer Role = "server"
)

// Message is one tagged signaling payload.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is a Message exchanged with the server-role connection,
// addressed by the client connection it came from or is going to.
type ServerMessage struct {
	Message

	ClientID string `json:"clientID"`
}

// NewMessage marshals data into a Message of the given type.
func NewMessage(messageType string, data any) (Message, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", messageType, err)
	}
	return Message{Type: messageType, Data: encoded}, nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}
