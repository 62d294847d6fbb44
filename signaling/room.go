// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errNoServer      = errors.New("room has no server connection")
	errUnknownClient = errors.New("unknown client")
)

// Room routes signaling messages between one answering peer and any
// number of offering peers.
type Room struct {
	ID string

	logger *slog.Logger

	serverMu   sync.Mutex
	serverConn *websocket.Conn

	clientsMu   sync.Mutex
	clientConns map[string]*websocket.Conn
}

// NewRoom creates an empty room.
func NewRoom(id string, logger *slog.Logger) *Room {
	return &Room{
		ID:          id,
		logger:      logger.With("room", id),
		clientConns: make(map[string]*websocket.Conn),
	}
}

// HandleServerConn registers conn as the room's answering peer and
// forwards its messages to the addressed clients until it disconnects.
// A second server connection is refused with an error message.
func (r *Room) HandleServerConn(conn *websocket.Conn) {
	r.serverMu.Lock()
	if r.serverConn != nil {
		r.serverMu.Unlock()
		refusal, _ := NewMessage(TypeError, "server connection already exists")
		conn.WriteJSON(refusal)
		conn.Close()
		r.logger.Warn("rejected duplicate server connection", "remote_addr", conn.RemoteAddr().String())
		return
	}
	r.serverConn = conn
	r.serverMu.Unlock()

	r.logger.Info("server connection registered", "remote_addr", conn.RemoteAddr().String())

	defer func() {
		r.serverMu.Lock()
		r.serverConn = nil
		r.serverMu.Unlock()
		conn.Close()
		r.logger.Info("server connection closed", "remote_addr", conn.RemoteAddr().String())
	}()

	for {
		var message ServerMessage
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		err := r.sendToClient(message.ClientID, message.Message)
		if errors.Is(err, errUnknownClient) {
			// The client left after the answering peer addressed it.
			r.logger.Debug("dropping message for departed client", "client", message.ClientID)
			continue
		}
		if err != nil {
			r.logger.Warn("forwarding to client failed", "client", message.ClientID, "error", err)
			return
		}
	}
}

// HandleClientConn registers conn as an offering peer under a fresh id
// and forwards its messages to the server connection until it
// disconnects.
func (r *Room) HandleClientConn(conn *websocket.Conn) {
	id := uuid.NewString()

	r.clientsMu.Lock()
	r.clientConns[id] = conn
	r.clientsMu.Unlock()

	r.logger.Info("client connection registered", "client", id, "remote_addr", conn.RemoteAddr().String())

	defer func() {
		r.clientsMu.Lock()
		delete(r.clientConns, id)
		r.clientsMu.Unlock()
		conn.Close()
		r.logger.Info("client connection closed", "client", id)
	}()

	for {
		var message Message
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		if err := r.sendToServer(id, message); err != nil {
			r.logger.Warn("forwarding to server failed", "client", id, "error", err)
			return
		}
	}
}

// Clients returns the number of connected offering peers.
func (r *Room) Clients() int {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	return len(r.clientConns)
}

func (r *Room) sendToClient(clientID string, message Message) error {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	conn, ok := r.clientConns[clientID]
	if !ok {
		return errUnknownClient
	}
	return conn.WriteJSON(message)
}

func (r *Room) sendToServer(clientID string, message Message) error {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()

	if r.serverConn == nil {
		return errNoServer
	}
	return r.serverConn.WriteJSON(ServerMessage{Message: message, ClientID: clientID})
}
