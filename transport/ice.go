// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/peertunnel/lib/config"
)

// DefaultSTUNServer is used when no ICE servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// ICEConfig holds ICE server configuration for peer connections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN and TURN) used during
	// candidate gathering.
	Servers []webrtc.ICEServer

	// IncludeLoopback gathers loopback host candidates. Needed when both
	// peers run on one machine with no other interface, as in tests.
	IncludeLoopback bool
}

// DefaultICEConfig returns a configuration with one public STUN server.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{
		Servers: []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}},
	}
}

// ICEServer builds a pion ICE server entry. username and credential are
// only meaningful for TURN URLs and may be empty.
func ICEServer(urls []string, username, credential string) webrtc.ICEServer {
	server := webrtc.ICEServer{URLs: urls}
	if username != "" {
		server.Username = username
		server.Credential = credential
	}
	return server
}

// ICEConfigFromConfig converts the ice section of the configuration.
// An empty server list falls back to DefaultICEConfig's STUN server.
func ICEConfigFromConfig(section config.ICEConfig) ICEConfig {
	if len(section.Servers) == 0 {
		iceConfig := DefaultICEConfig()
		iceConfig.IncludeLoopback = section.IncludeLoopback
		return iceConfig
	}
	servers := make([]webrtc.ICEServer, 0, len(section.Servers))
	for _, server := range section.Servers {
		servers = append(servers, ICEServer(server.URLs, server.Username, server.Credential))
	}
	return ICEConfig{Servers: servers, IncludeLoopback: section.IncludeLoopback}
}
