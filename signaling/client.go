// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/peertunnel/lib/clock"
	"github.com/bureau-foundation/peertunnel/lib/netutil"
)

// closeGracePeriod bounds how long Run waits for the server to answer a
// close frame before dropping the connection.
const closeGracePeriod = time.Second

// ErrNotConnected is returned by Send before Connect succeeds.
var ErrNotConnected = errors.New("signaling: not connected")

// Client is one websocket connection to a signaling room.
type Client struct {
	serverURL *url.URL
	roomID    string
	role      Role
	logger    *slog.Logger

	// Dialer opens the websocket. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Clock bounds the closing handshake. Nil uses the real clock.
	Clock clock.Clock

	conn    *websocket.Conn
	writeMu sync.Mutex

	inbound chan ServerMessage
	done    chan struct{}
}

// NewClient creates a client for roomID on the signaling server at
// serverURL. Call Connect, then Run.
func NewClient(serverURL *url.URL, roomID string, role Role, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		roomID:    roomID,
		role:      role,
		logger:    logger.With("room", roomID, "role", string(role)),
		inbound:   make(chan ServerMessage, 16),
		done:      make(chan struct{}),
	}
}

// WebSocketURL returns the join URL for a room: the server's /ws path
// with role and room-id query parameters, with the scheme upgraded from
// http to ws or https to wss.
func WebSocketURL(serverURL *url.URL, roomID string, role Role) *url.URL {
	wsURL := serverURL.JoinPath("ws")

	query := wsURL.Query()
	query.Set("role", string(role))
	query.Set("room-id", roomID)
	wsURL.RawQuery = query.Encode()

	if serverURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	return wsURL
}

func (c *Client) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.Real()
}

// RoomID returns the room this client joins.
func (c *Client) RoomID() string {
	return c.roomID
}

// Connect dials the signaling server.
func (c *Client) Connect(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	target := WebSocketURL(c.serverURL, c.roomID, c.role)
	c.logger.Info("connecting to signaling server", "url", target.String())

	conn, response, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if response != nil {
			return fmt.Errorf("dialing %s: %w (status %s)", target, err, response.Status)
		}
		return fmt.Errorf("dialing %s: %w", target, err)
	}
	c.conn = conn

	c.logger.Info("connected to signaling server")
	return nil
}

// Inbound delivers messages received from the room. The channel is
// closed when the connection ends. For client-role connections ClientID
// is always empty.
func (c *Client) Inbound() <-chan ServerMessage {
	return c.inbound
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes a message to the room. Used by client-role connections.
func (c *Client) Send(message Message) error {
	return c.writeJSON(message)
}

// SendTo writes a message addressed to one client. Used by the
// server-role connection.
func (c *Client) SendTo(clientID string, message Message) error {
	return c.writeJSON(ServerMessage{Message: message, ClientID: clientID})
}

func (c *Client) writeJSON(v any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Run pumps inbound messages until the connection ends or ctx is
// cancelled. On cancellation it sends a close frame and waits briefly for
// the server to finish the closing handshake.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	stopping := make(chan struct{})
	go c.readPump(stopping)

	select {
	case <-c.done:
		c.logger.Info("signaling connection closed by server")
		return nil
	case <-ctx.Done():
	}

	close(stopping)
	c.logger.Info("closing signaling connection")

	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		c.clock().Now().Add(closeGracePeriod),
	)
	c.writeMu.Unlock()
	if err != nil && !netutil.IsExpectedCloseError(err) {
		c.conn.Close()
		return fmt.Errorf("sending close frame: %w", err)
	}

	select {
	case <-c.done:
	case <-c.clock().After(closeGracePeriod):
		c.logger.Debug("server did not finish the closing handshake")
		c.conn.Close()
	}
	return nil
}

func (c *Client) readPump(stopping <-chan struct{}) {
	defer close(c.done)
	defer close(c.inbound)
	defer c.conn.Close()

	for {
		var message ServerMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !netutil.IsExpectedCloseError(err) {
				c.logger.Warn("signaling read failed", "error", err)
			}
			return
		}

		c.logger.Debug("signaling message received", "type", message.Type, "client", message.ClientID)

		select {
		case c.inbound <- message:
		case <-stopping:
			return
		}
	}
}
