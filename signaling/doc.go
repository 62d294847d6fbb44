// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling bootstraps peer tunnels over a websocket control link.
//
// The link only carries handshake messages: tagged JSON objects of the
// form {"type": ..., "data": ...} with types [TypeOffer], [TypeAnswer]
// and [TypeICECandidate]. It never carries tunneled application data.
//
// A [Server] hosts rooms. POST /rooms creates a room and returns its id;
// GET /ws?role=<client|server>&room-id=<id> joins one. Each room has at
// most one server-role connection (the answering peer) and any number of
// client-role connections (offering peers). The server tags every message
// it forwards from a client with that client's id ([ServerMessage]) and
// routes the answering peer's replies back by the same id.
//
// A [Client] is one end of the link. [WebSocketURL] builds the join URL,
// upgrading http to ws and https to wss. [CreateRoom] calls the room
// endpoint.
package signaling
