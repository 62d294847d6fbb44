// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"

	"github.com/bureau-foundation/peertunnel/lib/clock"
	"github.com/bureau-foundation/peertunnel/lib/netutil"
	"github.com/bureau-foundation/peertunnel/lib/wire"
)

// Compile-time interface check.
var _ http.Handler = (*Interceptor)(nil)

// DefaultRedialMin is the first redial delay after a link drops.
const DefaultRedialMin = 100 * time.Millisecond

// InterceptorConfig configures an Interceptor.
type InterceptorConfig struct {
	// Origin is the origin the intercepted context serves. Relative
	// request URLs resolve against it, and absolute URLs for any other
	// origin pass through. Required.
	Origin *url.URL

	// ReservedPrefix marks tunnel infrastructure paths, which are never
	// tunneled. Empty reserves nothing.
	ReservedPrefix string

	// ReplyTimeout bounds the wait for a reply. Zero waits until the
	// link drops.
	ReplyTimeout time.Duration

	// RedialMin and RedialMax bound the delay between link dials. Zero
	// uses DefaultRedialMin and 30 seconds.
	RedialMin time.Duration
	RedialMax time.Duration

	// Passthrough serves infrastructure traffic. Nil serves a status
	// document under ReservedPrefix and proxies foreign absolute URLs
	// directly.
	Passthrough http.Handler

	// Clock drives reply timeouts and redial delays. Nil uses the real
	// clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Dialer opens a link to the tunneling page.
type Dialer func(ctx context.Context) (net.Conn, error)

// UnixDialer dials the page's Unix socket.
func UnixDialer(socketPath string) Dialer {
	var dialer net.Dialer
	return func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
}

// Interceptor is the interception context's HTTP handler. Requests are
// encoded, sent over the attached page link with a fresh ID, and
// completed with the correlated reply. With no link attached a request
// completes immediately with 503; when the link drops, every request
// waiting on it completes with 502.
type Interceptor struct {
	config      InterceptorConfig
	origin      string
	passthrough http.Handler
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	link    *link
	nextID  uint64
	pending map[uint64]*pendingReply
}

// pendingReply is one request waiting on the link. Whoever removes it
// from the pending map under the lock resolves it.
type pendingReply struct {
	link   *link
	result chan []byte
	timer  *clock.Timer
}

// NewInterceptor creates an interceptor with no link attached.
func NewInterceptor(config InterceptorConfig) *Interceptor {
	if config.RedialMin <= 0 {
		config.RedialMin = DefaultRedialMin
	}
	if config.RedialMax <= 0 {
		config.RedialMax = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	i := &Interceptor{
		config:  config,
		origin:  config.Origin.Scheme + "://" + config.Origin.Host,
		clock:   config.Clock,
		logger:  logger,
		pending: make(map[uint64]*pendingReply),
	}
	i.passthrough = config.Passthrough
	if i.passthrough == nil {
		i.passthrough = i.infrastructureRouter()
	}
	return i
}

// ServeHTTP tunnels request, or passes it through if it is
// infrastructure traffic.
func (i *Interceptor) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if i.isInfrastructure(request) {
		i.passthrough.ServeHTTP(writer, request)
		return
	}

	captured, err := wire.CaptureRequest(request, i.config.Origin)
	if err != nil {
		i.logger.Warn("capturing request failed", "method", request.Method, "url", request.URL.String(), "error", err)
		http.Error(writer, "reading request body failed", http.StatusBadRequest)
		return
	}

	frame, err := i.Exchange(request.Context(), captured)
	if err != nil {
		i.logger.Debug("caller went away", "method", captured.Method, "url", captured.URL, "error", err)
		return
	}

	response, err := wire.DecodeResponse(frame)
	if err != nil {
		i.logger.Warn("undecodable reply", "url", captured.URL, "error", err)
	}
	response.RewriteRedirect()
	if err := response.Write(writer, captured.Method); err != nil && !netutil.IsExpectedCloseError(err) {
		i.logger.Debug("writing response failed", "url", captured.URL, "error", err)
	}
}

// Exchange sends request over the attached link and waits for its
// reply frame. It always yields a frame unless ctx ends first, in which
// case the request is abandoned and a late reply is discarded.
func (i *Interceptor) Exchange(ctx context.Context, request *wire.Request) ([]byte, error) {
	result := make(chan []byte, 1)

	i.mu.Lock()
	current := i.link
	if current == nil {
		i.mu.Unlock()
		i.logger.Debug("no page link, answering unavailable", "url", request.URL)
		return wire.UnavailableFrame(), nil
	}
	i.nextID++
	id := i.nextID
	entry := &pendingReply{link: current, result: result}
	i.pending[id] = entry
	if i.config.ReplyTimeout > 0 {
		entry.timer = i.clock.AfterFunc(i.config.ReplyTimeout, func() {
			if i.take(id) != nil {
				i.logger.Warn("reply timed out", "id", id, "url", request.URL, "timeout", i.config.ReplyTimeout)
				result <- wire.GatewayTimeoutFrame()
			}
		})
	}
	i.mu.Unlock()

	message := requestMessage(id, request)
	if err := current.send(message); err != nil {
		i.logger.Warn("writing to page link failed", "id", id, "error", err)
		i.detach(current)
	} else {
		i.logger.Debug("request sent",
			"id", id,
			"method", request.Method,
			"url", request.URL,
			"size", sizestr.ToString(int64(len(message.Serialized))),
		)
	}

	select {
	case frame := <-result:
		return frame, nil
	case <-ctx.Done():
		if i.take(id) == nil {
			return <-result, nil
		}
		return nil, ctx.Err()
	}
}

// Run keeps a page link attached until ctx is cancelled, dialing with
// exponential backoff whenever there is none. It returns ctx's error.
func (i *Interceptor) Run(ctx context.Context, dial Dialer) error {
	redial := &backoff.Backoff{
		Min:    i.config.RedialMin,
		Max:    i.config.RedialMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		conn, err := dial(ctx)
		if err == nil {
			redial.Reset()
			err = i.Attach(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(redial.Attempt()) + 1
		delay := redial.Duration()
		if err != nil {
			i.logger.Info("page link unavailable", "error", err, "attempt", attempt, "retry_in", delay)
		} else {
			i.logger.Info("page link closed", "retry_in", delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.clock.After(delay):
		}
	}
}

// Attach makes conn the page link and reads replies from it until it
// closes or ctx is cancelled. A previously attached link is dropped.
// It returns nil when the link closed normally.
func (i *Interceptor) Attach(ctx context.Context, conn net.Conn) error {
	current := newLink(conn)

	i.mu.Lock()
	previous := i.link
	i.link = current
	i.mu.Unlock()
	if previous != nil {
		i.detach(previous)
	}
	i.logger.Info("page link attached", "remote", conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { current.close() })
	defer stop()
	defer i.detach(current)

	for {
		message, err := current.receive()
		if err != nil {
			if netutil.IsExpectedCloseError(err) || ctx.Err() != nil || i.currentLink() != current {
				return nil
			}
			return fmt.Errorf("reading page link: %w", err)
		}
		i.handleReply(message)
	}
}

// Linked reports whether a page link is attached.
func (i *Interceptor) Linked() bool {
	return i.currentLink() != nil
}

func (i *Interceptor) currentLink() *link {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.link
}

// Pending returns the number of requests waiting for a reply.
func (i *Interceptor) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

func (i *Interceptor) handleReply(message Message) {
	if message.Type != TypeResponse {
		i.logger.Warn("ignoring link message", "type", message.Type, "id", message.ID)
		return
	}
	entry := i.take(message.ID)
	if entry == nil {
		i.logger.Warn("reply for unknown request, discarding", "id", message.ID)
		return
	}
	if message.Error != "" {
		i.logger.Warn("page could not tunnel request", "id", message.ID, "error", message.Error)
		entry.result <- wire.BadGatewayFrame()
		return
	}
	entry.result <- message.Serialized
}

// detach drops ended as the page link if it still is one, closes it,
// and resolves every request waiting on it with 502.
func (i *Interceptor) detach(ended *link) {
	i.mu.Lock()
	wasCurrent := i.link == ended
	if wasCurrent {
		i.link = nil
	}
	var failed []*pendingReply
	for id, entry := range i.pending {
		if entry.link == ended {
			delete(i.pending, id)
			failed = append(failed, entry)
		}
	}
	i.mu.Unlock()

	ended.close()
	if wasCurrent || len(failed) > 0 {
		i.logger.Info("page link detached", "failed", len(failed))
	}
	for _, entry := range failed {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.result <- wire.BadGatewayFrame()
	}
}

// take removes and returns the pending entry for id, or nil if it was
// already resolved.
func (i *Interceptor) take(id uint64) *pendingReply {
	i.mu.Lock()
	entry, ok := i.pending[id]
	if ok {
		delete(i.pending, id)
	}
	i.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

// isInfrastructure reports whether request targets the reserved path
// prefix or an origin other than the intercepted one.
func (i *Interceptor) isInfrastructure(request *http.Request) bool {
	if prefix := i.config.ReservedPrefix; prefix != "" {
		if request.URL.Path == prefix || strings.HasPrefix(request.URL.Path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	if request.URL.IsAbs() {
		return request.URL.Scheme+"://"+request.URL.Host != i.origin
	}
	return false
}

// infrastructureRouter is the default passthrough: a status document
// under the reserved prefix and a direct proxy for foreign origins.
func (i *Interceptor) infrastructureRouter() http.Handler {
	router := mux.NewRouter()
	if prefix := strings.TrimSuffix(i.config.ReservedPrefix, "/"); prefix != "" {
		router.HandleFunc(prefix+"/status", i.handleStatus).Methods(http.MethodGet)
	}

	direct := &httputil.ReverseProxy{
		Rewrite: func(proxyRequest *httputil.ProxyRequest) {
			proxyRequest.Out.Host = proxyRequest.In.Host
			proxyRequest.SetXForwarded()
		},
		ErrorHandler: func(writer http.ResponseWriter, request *http.Request, err error) {
			i.logger.Warn("passthrough request failed", "url", request.URL.String(), "error", err)
			wire.BadGateway().Write(writer, request.Method)
		},
	}
	router.MatcherFunc(func(request *http.Request, _ *mux.RouteMatch) bool {
		return request.URL.IsAbs()
	}).Handler(direct)
	return router
}

type status struct {
	Linked  bool   `json:"linked"`
	Pending int    `json:"pending"`
	Origin  string `json:"origin"`
}

func (i *Interceptor) handleStatus(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(status{
		Linked:  i.Linked(),
		Pending: i.Pending(),
		Origin:  i.origin,
	})
}
