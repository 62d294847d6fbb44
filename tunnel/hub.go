// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/signaling"
	"github.com/bureau-foundation/peertunnel/transport"
)

// HubConfig configures a Hub.
type HubConfig struct {
	ICE transport.ICEConfig

	// Responder serves every "http" channel. Required.
	Responder *Responder

	// NewPeer creates peer connections. Nil uses transport.NewPionPeer.
	NewPeer transport.PeerFactory

	Logger *slog.Logger
}

// Hub is the answering peer of one signaling room. It keeps one
// Answerer per offering client and routes each client's signaling
// messages to it.
type Hub struct {
	config HubConfig
	logger *slog.Logger

	mu        sync.Mutex
	answerers map[string]*transport.Answerer
}

// NewHub creates a hub with no clients.
func NewHub(config HubConfig) *Hub {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config:    config,
		logger:    logger,
		answerers: make(map[string]*transport.Answerer),
	}
}

// Run handles messages from inbound, replying through signaler, until
// inbound closes or ctx is cancelled. All peer connections are closed
// on return. Failures concerning one client are logged and do not stop
// the hub.
func (h *Hub) Run(ctx context.Context, inbound <-chan signaling.ServerMessage, signaler transport.ClientSignaler) error {
	defer h.closeAll()
	h.logger.Info("hub running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-inbound:
			if !ok {
				h.logger.Info("signaling channel closed")
				return nil
			}
			h.handle(ctx, message, signaler)
		}
	}
}

// Clients returns the number of clients with an open peer connection.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.answerers)
}

func (h *Hub) handle(ctx context.Context, message signaling.ServerMessage, signaler transport.ClientSignaler) {
	logger := h.logger.With("client", message.ClientID)

	switch message.Type {
	case signaling.TypeOffer:
		var offer webrtc.SessionDescription
		if err := message.Decode(&offer); err != nil {
			logger.Warn("undecodable offer", "error", err)
			return
		}
		h.handleOffer(ctx, message.ClientID, offer, signaler, logger)

	case signaling.TypeICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := message.Decode(&candidate); err != nil {
			logger.Warn("undecodable candidate", "error", err)
			return
		}
		h.mu.Lock()
		answerer, ok := h.answerers[message.ClientID]
		h.mu.Unlock()
		if !ok {
			logger.Warn("candidate for unknown client")
			return
		}
		if err := answerer.AddICECandidate(candidate); err != nil {
			logger.Warn("adding remote candidate failed", "error", err)
		}

	case signaling.TypeError:
		var reason string
		message.Decode(&reason)
		logger.Error("signaling server reported an error", "reason", reason)

	default:
		logger.Debug("ignoring signaling message", "type", message.Type)
	}
}

func (h *Hub) handleOffer(ctx context.Context, clientID string, offer webrtc.SessionDescription, signaler transport.ClientSignaler, logger *slog.Logger) {
	h.mu.Lock()
	_, exists := h.answerers[clientID]
	h.mu.Unlock()
	if exists {
		logger.Warn("rejecting offer for a client with an open tunnel")
		refusal, _ := signaling.NewMessage(signaling.TypeError, "tunnel already open")
		signaler.SendTo(clientID, refusal)
		return
	}

	var answerer *transport.Answerer
	answerer, err := transport.NewAnswerer(clientID, transport.AnswererConfig{
		ICE:      h.config.ICE,
		Signaler: signaler,
		NewPeer:  h.config.NewPeer,
		OnDataChannel: func(channel transport.DataChannel) {
			if channel.Label() != transport.ChannelLabel {
				logger.Info("ignoring data channel", "label", channel.Label())
				return
			}
			channel.Bind(h.config.Responder.Serve(ctx, channel))
		},
		OnClosed: func() {
			h.mu.Lock()
			if h.answerers[clientID] == answerer {
				delete(h.answerers, clientID)
			}
			h.mu.Unlock()
			logger.Info("tunnel closed")
		},
		Logger: h.logger,
	})
	if err != nil {
		logger.Error("creating peer connection failed", "error", err)
		return
	}

	h.mu.Lock()
	h.answerers[clientID] = answerer
	h.mu.Unlock()

	if err := answerer.HandleOffer(offer); err != nil {
		logger.Error("answering offer failed", "error", err)
		answerer.Close()
		return
	}
	logger.Info("tunnel created")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	answerers := make([]*transport.Answerer, 0, len(h.answerers))
	for _, answerer := range h.answerers {
		answerers = append(answerers, answerer)
	}
	h.mu.Unlock()

	for _, answerer := range answerers {
		answerer.Close()
	}
	h.logger.Info("hub closed", "tunnels", len(answerers))
}
