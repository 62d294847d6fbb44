// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peertunnel-page is the offering peer. It joins a signaling room as a
// client, negotiates a data channel with the exit, and tunnels every
// request arriving on its link socket over that channel.
//
// A failed handshake is not retried: the page exits with an error and
// the operator restarts it. Requests sent while no session is open are
// answered 503 Service Unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/peertunnel/bridge"
	"github.com/bureau-foundation/peertunnel/lib/config"
	"github.com/bureau-foundation/peertunnel/lib/version"
	"github.com/bureau-foundation/peertunnel/signaling"
	"github.com/bureau-foundation/peertunnel/transport"
	"github.com/bureau-foundation/peertunnel/tunnel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, roomID, socketPath string
	var verbose, showVersion bool

	flagSet := pflag.NewFlagSet("peertunnel-page", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to peertunnel.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&roomID, "room", "", "signaling room to join (overrides page.room_id)")
	flagSet.StringVar(&socketPath, "socket", "", "link socket path (overrides page.link_socket)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("peertunnel-page %s\n", version.Full())
		return nil
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if roomID != "" {
		cfg.Page.RoomID = roomID
	}
	if socketPath != "" {
		cfg.Page.LinkSocket = socketPath
	}
	if cfg.Page.RoomID == "" {
		return errors.New("a room is required: pass --room or set page.room_id")
	}

	serverURL, err := url.Parse(cfg.Signaling.URL)
	if err != nil {
		return fmt.Errorf("parsing signaling URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	multiplexer := tunnel.NewMultiplexer(tunnel.MultiplexerConfig{
		MaxChunk: cfg.Page.MaxChunk,
		Logger:   logger,
	})
	defer multiplexer.Close()

	page := &bridge.Page{
		SocketPath: cfg.Page.LinkSocket,
		Tunnel:     multiplexer,
		Logger:     logger,
	}
	if err := page.Start(ctx); err != nil {
		return err
	}
	defer page.Stop()

	client := signaling.NewClient(serverURL, cfg.Page.RoomID, signaling.RoleClient, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	offerer := transport.NewOfferer(transport.OffererConfig{
		ICE:      transport.ICEConfigFromConfig(cfg.ICE),
		Signaler: client,
		Channel:  multiplexer,
		OnStateChange: func(state transport.State) {
			logger.Info("handshake state", "state", state)
			if state == transport.StateFailed {
				failOnce.Do(func() { close(failed) })
			}
		},
		OnConnectionStateChange: func(state webrtc.PeerConnectionState) {
			logger.Debug("peer connection state", "state", state.String())
		},
		Logger: logger,
	})

	logger.Info("starting peertunnel-page",
		"version", version.Info(),
		"room", cfg.Page.RoomID,
		"link_socket", cfg.Page.LinkSocket,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := client.Run(groupCtx); err != nil {
			return fmt.Errorf("signaling: %w", err)
		}
		if ctx.Err() == nil {
			return errors.New("signaling connection closed by server")
		}
		return nil
	})
	group.Go(func() error {
		if err := offerer.Start(); err != nil {
			return fmt.Errorf("starting handshake: %w", err)
		}
		err := offerer.Run(groupCtx, client.Inbound())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		select {
		case <-failed:
			return errors.New("peer session failed; restart to reconnect")
		case <-groupCtx.Done():
			return nil
		}
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
