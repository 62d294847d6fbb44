// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"net"
	"sync"

	"github.com/bureau-foundation/peertunnel/lib/codec"
	"github.com/bureau-foundation/peertunnel/lib/wire"
)

// Message types on the link.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Message is one CBOR item on the link between the interception context
// and the tunneling page.
//
// Wire protocol:
//
//	Interceptor → Page: Message{Type: "request", ID, Method, URL, HeadersList, HasBody, Serialized}
//	Page → Interceptor: Message{Type: "response", ID, Serialized}
//	Page → Interceptor: Message{Type: "response", ID, Error}    (request unusable)
//
// IDs are assigned by the interceptor and only mean something on the
// link that carried the request.
type Message struct {
	Type string `cbor:"type"`
	ID   uint64 `cbor:"id"`

	// Request descriptor. The page forwards only Serialized; the rest
	// is carried for logging.
	Method      string      `cbor:"method,omitempty"`
	URL         string      `cbor:"url,omitempty"`
	HeadersList [][2]string `cbor:"headersList,omitempty"`
	HasBody     bool        `cbor:"hasBody,omitempty"`

	// Serialized is the request or response frame.
	Serialized []byte `cbor:"serialized,omitempty"`

	// Error replaces Serialized in a response the page could not
	// produce.
	Error string `cbor:"error,omitempty"`
}

// requestMessage builds the link message for a captured request.
func requestMessage(id uint64, request *wire.Request) Message {
	headers := make([][2]string, 0, len(request.Header))
	for _, field := range request.Header {
		headers = append(headers, [2]string{field.Name, field.Value})
	}
	return Message{
		Type:        TypeRequest,
		ID:          id,
		Method:      request.Method,
		URL:         request.URL,
		HeadersList: headers,
		HasBody:     request.HasBody(),
		Serialized:  wire.EncodeRequest(request),
	}
}

// link is one end of an attached connection. Reads happen on a single
// goroutine; writes are serialized.
type link struct {
	conn    net.Conn
	decoder *codec.Decoder

	writeMu sync.Mutex
	encoder *codec.Encoder
}

func newLink(conn net.Conn) *link {
	return &link{
		conn:    conn,
		decoder: codec.NewDecoder(conn),
		encoder: codec.NewEncoder(conn),
	}
}

func (l *link) send(message Message) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.encoder.Encode(message)
}

func (l *link) receive() (Message, error) {
	var message Message
	err := l.decoder.Decode(&message)
	return message, err
}

func (l *link) close() error {
	return l.conn.Close()
}
