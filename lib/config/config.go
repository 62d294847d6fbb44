// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "PEERTUNNEL_CONFIG"

// MaxMessageSize is the largest data channel message peers are expected
// to accept.
const MaxMessageSize = 65535

// Config is the master configuration for all tunnel binaries. Each
// binary reads the sections it needs.
type Config struct {
	// Signaling locates (or, for the signaling binary, configures) the
	// signaling server.
	Signaling SignalingConfig `yaml:"signaling"`

	// ICE lists the STUN and TURN servers used by both peers.
	ICE ICEConfig `yaml:"ice"`

	// Page configures the tunneling page.
	Page PageConfig `yaml:"page"`

	// Intercept configures the interception context.
	Intercept InterceptConfig `yaml:"intercept"`

	// Exit configures the answering peer.
	Exit ExitConfig `yaml:"exit"`
}

// SignalingConfig configures the signaling server and how peers reach it.
type SignalingConfig struct {
	// URL is the server's base URL as seen by peers. Join URLs are
	// derived from it by upgrading the scheme to ws or wss.
	// Default: http://localhost:8080
	URL string `yaml:"url"`

	// Listen is the address the signaling binary listens on.
	// Default: :8080
	Listen string `yaml:"listen"`

	// AllowedOrigins lists browser origins allowed to create rooms and
	// join. "*" allows any origin.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RequestLog enables per-request access logging.
	RequestLog bool `yaml:"request_log"`
}

// ICEConfig lists ICE servers.
type ICEConfig struct {
	// Servers is tried in order during candidate gathering.
	// Default: one public Google STUN server.
	Servers []ICEServerConfig `yaml:"servers"`

	// IncludeLoopback gathers loopback candidates, for peers on one
	// host with no other interface.
	IncludeLoopback bool `yaml:"include_loopback"`
}

// ICEServerConfig is one STUN or TURN server.
type ICEServerConfig struct {
	URLs []string `yaml:"urls"`

	// Username and Credential authenticate to TURN servers.
	Username   string `yaml:"username,omitempty"`
	Credential string `yaml:"credential,omitempty"`
}

// PageConfig configures the tunneling page.
type PageConfig struct {
	// RoomID is the signaling room to join as a client.
	RoomID string `yaml:"room_id"`

	// LinkSocket is the Unix socket the interception context dials.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/peertunnel/link.sock
	LinkSocket string `yaml:"link_socket"`

	// MaxChunk bounds each data channel message.
	// Default: 16383
	MaxChunk int `yaml:"max_chunk"`
}

// InterceptConfig configures the interception context.
type InterceptConfig struct {
	// Listen is the local HTTP address whose requests are intercepted.
	// Default: 127.0.0.1:8000
	Listen string `yaml:"listen"`

	// Origin is the origin tunneled requests are attributed to.
	// Requests for any other origin pass through.
	// Default: http://127.0.0.1:8000
	Origin string `yaml:"origin"`

	// ReservedPrefix marks tunnel infrastructure paths, which pass
	// through unmodified.
	// Default: /tunnel
	ReservedPrefix string `yaml:"reserved_prefix"`

	// ReplyTimeout bounds the wait for a correlated reply. Zero waits
	// until the link closes.
	// Default: 5m
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// RedialMax caps the backoff between link redials.
	// Default: 30s
	RedialMax time.Duration `yaml:"redial_max"`
}

// ExitConfig configures the answering peer.
type ExitConfig struct {
	// TargetURL is where tunneled requests are proxied.
	// Default: http://localhost:3000
	TargetURL string `yaml:"target_url"`

	// ChangeHostHeader rewrites Host to the target's host.
	// Default: true
	ChangeHostHeader bool `yaml:"change_host_header"`

	// ChangeOriginHeader rewrites Origin to the target's origin.
	// Default: true
	ChangeOriginHeader bool `yaml:"change_origin_header"`
}

// Default returns the default configuration. The config file, when
// given, is decoded over these values.
func Default() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL:            "http://localhost:8080",
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
		},
		ICE: ICEConfig{
			Servers: []ICEServerConfig{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		Page: PageConfig{
			LinkSocket: "${XDG_RUNTIME_DIR:-/tmp}/peertunnel/link.sock",
			MaxChunk:   16383,
		},
		Intercept: InterceptConfig{
			Listen:         "127.0.0.1:8000",
			Origin:         "http://127.0.0.1:8000",
			ReservedPrefix: "/tunnel",
			ReplyTimeout:   5 * time.Minute,
			RedialMax:      30 * time.Second,
		},
		Exit: ExitConfig{
			TargetURL:          "http://localhost:3000",
			ChangeHostHeader:   true,
			ChangeOriginHeader: true,
		},
	}
}

// Load loads configuration from the PEERTUNNEL_CONFIG environment
// variable. It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your peertunnel.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// Resolve returns the configuration a binary runs with: the file at
// path if given, else the file named by PEERTUNNEL_CONFIG if set, else
// the expanded defaults. The result is validated.
func Resolve(path string) (*Config, error) {
	var cfg *Config
	var err error
	switch {
	case path != "":
		cfg, err = LoadFile(path)
	case os.Getenv(EnvironmentVariable) != "":
		cfg, err = Load()
	default:
		cfg = Default()
		cfg.ExpandVariables()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a specific file path over the
// defaults and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in URL,
// path and credential fields. Binaries that skip the file call it on
// Default.
func (c *Config) ExpandVariables() {
	c.Signaling.URL = expandVars(c.Signaling.URL)
	c.Page.RoomID = expandVars(c.Page.RoomID)
	c.Page.LinkSocket = expandVars(c.Page.LinkSocket)
	c.Intercept.Origin = expandVars(c.Intercept.Origin)
	c.Exit.TargetURL = expandVars(c.Exit.TargetURL)
	for index := range c.ICE.Servers {
		server := &c.ICE.Servers[index]
		server.Username = expandVars(server.Username)
		server.Credential = expandVars(server.Credential)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := validateHTTPURL(c.Signaling.URL); err != nil {
		errs = append(errs, fmt.Errorf("signaling.url: %w", err))
	}
	if c.Signaling.Listen == "" {
		errs = append(errs, errors.New("signaling.listen is required"))
	}

	for index, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d].urls is required", index))
		}
	}

	if c.Page.LinkSocket == "" {
		errs = append(errs, errors.New("page.link_socket is required"))
	}
	if c.Page.MaxChunk < 1 || c.Page.MaxChunk > MaxMessageSize {
		errs = append(errs, fmt.Errorf("page.max_chunk must be between 1 and %d, got %d", MaxMessageSize, c.Page.MaxChunk))
	}

	if c.Intercept.Listen == "" {
		errs = append(errs, errors.New("intercept.listen is required"))
	}
	if err := validateHTTPURL(c.Intercept.Origin); err != nil {
		errs = append(errs, fmt.Errorf("intercept.origin: %w", err))
	}
	if !strings.HasPrefix(c.Intercept.ReservedPrefix, "/") {
		errs = append(errs, fmt.Errorf("intercept.reserved_prefix must start with /, got %q", c.Intercept.ReservedPrefix))
	}
	if c.Intercept.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("intercept.reply_timeout must not be negative, got %s", c.Intercept.ReplyTimeout))
	}
	if c.Intercept.RedialMax <= 0 {
		errs = append(errs, fmt.Errorf("intercept.redial_max must be positive, got %s", c.Intercept.RedialMax))
	}

	if err := validateHTTPURL(c.Exit.TargetURL); err != nil {
		errs = append(errs, fmt.Errorf("exit.target_url: %w", err))
	}

	return errors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
