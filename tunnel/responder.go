// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"sync"

	"github.com/jpillora/sizestr"

	"github.com/bureau-foundation/peertunnel/lib/fragment"
	"github.com/bureau-foundation/peertunnel/lib/wire"
	"github.com/bureau-foundation/peertunnel/transport"
)

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Target is the base URL tunneled requests are proxied to.
	// Required.
	Target *url.URL

	// ChangeHostHeader sends the target's host as Host instead of the
	// host the request was made to.
	ChangeHostHeader bool

	// ChangeOriginHeader replaces Origin with the target's origin.
	ChangeOriginHeader bool

	// Transport performs the proxied requests. Nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper

	// MaxChunk bounds each response message. Zero uses
	// fragment.MaxChunk.
	MaxChunk int

	Logger *slog.Logger
}

// Responder is the answering peer's side of the tunnel protocol: it
// turns serialized request frames into serialized response frames by
// proxying them to a target.
type Responder struct {
	target   *url.URL
	proxy    *httputil.ReverseProxy
	maxChunk int
	logger   *slog.Logger
}

// NewResponder creates a responder for config.Target.
func NewResponder(config ResponderConfig) *Responder {
	if config.MaxChunk <= 0 {
		config.MaxChunk = fragment.MaxChunk
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	target := config.Target
	targetOrigin := target.Scheme + "://" + target.Host

	r := &Responder{
		target:   target,
		maxChunk: config.MaxChunk,
		logger:   logger,
	}
	r.proxy = &httputil.ReverseProxy{
		Rewrite: func(proxyRequest *httputil.ProxyRequest) {
			proxyRequest.SetURL(target)
			proxyRequest.SetXForwarded()
			if !config.ChangeHostHeader {
				proxyRequest.Out.Host = proxyRequest.In.Host
			}
			if config.ChangeOriginHeader {
				proxyRequest.Out.Header.Set("Origin", targetOrigin)
			}
		},
		Transport: config.Transport,
		ErrorHandler: func(writer http.ResponseWriter, request *http.Request, err error) {
			r.logger.Warn("proxied request failed", "method", request.Method, "url", request.URL.String(), "error", err)
			wire.BadGateway().Write(writer, request.Method)
		},
	}
	return r
}

// Respond proxies one serialized request and returns the serialized
// response. A proxy failure is a 502 response, not an error; only a
// frame that does not parse as an HTTP/1.1 request is an error.
//
// A response carrying Location also carries the sentinel header with
// the absolute redirect target, resolved against the URL the request
// was made to and mapped from the target back to that URL's origin.
func (r *Responder) Respond(ctx context.Context, frame []byte) ([]byte, error) {
	request, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(frame)))
	if err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	request.RequestURI = ""
	request = request.WithContext(ctx)

	original := *request.URL
	if original.Host == "" {
		original.Host = request.Host
	}
	if original.Scheme == "" {
		original.Scheme = "http"
	}

	r.logger.Info("tunneled request", "method", request.Method, "url", original.String())

	recorder := newResponseBuffer()
	r.proxy.ServeHTTP(recorder, request)

	response := recorder.response(request.Method)
	if location := response.Header.Get("Location"); location != "" {
		if absolute, err := original.Parse(location); err == nil {
			if absolute.Scheme == r.target.Scheme && absolute.Host == r.target.Host {
				absolute.Scheme = original.Scheme
				absolute.Host = original.Host
			}
			response.Header = append(response.Header, wire.Field{Name: wire.LocationSentinel, Value: absolute.String()})
		}
	}

	encoded := wire.EncodeResponse(response)
	r.logger.Debug("tunneled response",
		"status", response.StatusCode,
		"size", sizestr.ToString(int64(len(encoded))),
	)
	return encoded, nil
}

// Serve returns the handler for one "http" data channel. Requests are
// proxied concurrently and answered strictly in arrival order, which
// is what lets the offering side correlate responses without
// identifiers. A frame that is not an HTTP request closes the channel.
func (r *Responder) Serve(ctx context.Context, channel transport.DataChannel) transport.ChannelHandler {
	server := &channelServer{
		ctx:       ctx,
		responder: r,
		channel:   channel,
		replies:   make(chan chan []byte, 64),
		done:      make(chan struct{}),
	}
	go server.writeLoop()
	return server
}

// channelServer holds one channel's reassembly state and its ordered
// reply queue.
type channelServer struct {
	ctx         context.Context
	responder   *Responder
	channel     transport.DataChannel
	reassembler fragment.Reassembler

	// replies holds one slot per received request, in arrival order.
	// A nil value in a slot means the request was unusable.
	replies chan chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (s *channelServer) ChannelOpen(transport.DataChannel) {}

func (s *channelServer) ChannelMessage(_ transport.DataChannel, data []byte) {
	frame, complete := s.reassembler.Push(data)
	if !complete {
		return
	}

	slot := make(chan []byte, 1)
	select {
	case s.replies <- slot:
	case <-s.done:
		return
	}

	go func() {
		response, err := s.responder.Respond(s.ctx, frame)
		if err != nil {
			s.responder.logger.Warn("unusable request frame, closing channel", "error", err, "size", len(frame))
		}
		slot <- response
	}()
}

func (s *channelServer) ChannelClosed(transport.DataChannel) {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *channelServer) writeLoop() {
	defer s.ChannelClosed(s.channel)
	for {
		var slot chan []byte
		select {
		case slot = <-s.replies:
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.channel.Close()
			return
		}

		var response []byte
		select {
		case response = <-slot:
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.channel.Close()
			return
		}

		if response == nil {
			s.channel.Close()
			return
		}
		for _, chunk := range fragment.Split(response, s.responder.maxChunk) {
			if err := s.channel.Send(chunk); err != nil {
				s.responder.logger.Warn("writing response failed", "error", err)
				s.channel.Close()
				return
			}
		}
	}
}

// responseBuffer is an http.ResponseWriter collecting a whole response.
type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

func (b *responseBuffer) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

// Flush satisfies http.Flusher for streaming upstream responses; the
// body is delivered whole either way.
func (b *responseBuffer) Flush() {}

// response converts the buffer to a wire response to method with headers
// in sorted order and a Content-Length matching the body. A HEAD response
// keeps the length the target declared.
func (b *responseBuffer) response(method string) *wire.Response {
	contentLength := fmt.Sprint(b.body.Len())
	if declared := b.header.Get("Content-Length"); method == http.MethodHead && b.body.Len() == 0 && declared != "" {
		contentLength = declared
	}

	names := make([]string, 0, len(b.header))
	for name := range b.header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var header wire.HeaderList
	for _, name := range names {
		for _, value := range b.header[name] {
			header = append(header, wire.Field{Name: name, Value: value})
		}
	}
	header = append(header, wire.Field{Name: "Content-Length", Value: contentLength})

	return &wire.Response{
		StatusCode: b.status,
		StatusText: http.StatusText(b.status),
		Header:     header,
		Body:       b.body.Bytes(),
	}
}
