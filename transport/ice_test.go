// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/bureau-foundation/peertunnel/lib/config"
)

func TestICEConfigFromConfig_Empty(t *testing.T) {
	iceConfig := ICEConfigFromConfig(config.ICEConfig{IncludeLoopback: true})
	if len(iceConfig.Servers) != 1 || iceConfig.Servers[0].URLs[0] != DefaultSTUNServer {
		t.Errorf("servers = %+v, want the default STUN server", iceConfig.Servers)
	}
	if !iceConfig.IncludeLoopback {
		t.Error("IncludeLoopback dropped")
	}
}

func TestICEConfigFromConfig_WithCredentials(t *testing.T) {
	iceConfig := ICEConfigFromConfig(config.ICEConfig{
		Servers: []config.ICEServerConfig{
			{URLs: []string{"stun:stun.example:3478"}},
			{
				URLs:       []string{"turn:turn.example:3478?transport=udp", "turn:turn.example:3478?transport=tcp"},
				Username:   "1735689600:tunnel",
				Credential: "secret",
			},
		},
	})

	if len(iceConfig.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(iceConfig.Servers))
	}
	stun := iceConfig.Servers[0]
	if stun.Username != "" || stun.Credential != nil {
		t.Errorf("STUN server carries credentials: %+v", stun)
	}
	turn := iceConfig.Servers[1]
	if len(turn.URLs) != 2 {
		t.Errorf("expected 2 TURN URLs, got %d", len(turn.URLs))
	}
	if turn.Username != "1735689600:tunnel" {
		t.Errorf("username = %q", turn.Username)
	}
	if turn.Credential != "secret" {
		t.Errorf("credential = %v", turn.Credential)
	}
}
