// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peertunnel-exit is the answering peer. It joins a signaling room in
// the server role, answers every offering page, and proxies the requests
// tunneled over each data channel to the configured target.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

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
	var configPath, roomID, target string
	var verbose, showVersion bool

	flagSet := pflag.NewFlagSet("peertunnel-exit", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to peertunnel.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&roomID, "room", "", "signaling room to answer in (default: create a new room)")
	flagSet.StringVar(&target, "target", "", "URL tunneled requests are proxied to (overrides exit.target_url)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("peertunnel-exit %s\n", version.Full())
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
	if target != "" {
		cfg.Exit.TargetURL = target
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --target: %w", err)
		}
	}

	serverURL, err := url.Parse(cfg.Signaling.URL)
	if err != nil {
		return fmt.Errorf("parsing signaling URL: %w", err)
	}
	targetURL, err := url.Parse(cfg.Exit.TargetURL)
	if err != nil {
		return fmt.Errorf("parsing target URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if roomID == "" {
		roomID, err = signaling.CreateRoom(ctx, nil, serverURL)
		if err != nil {
			return fmt.Errorf("creating room: %w", err)
		}
		logger.Info("created signaling room", "room", roomID)
	}
	// Operators pass the room to the page, so print it where scripts
	// can read it.
	fmt.Println(roomID)

	client := signaling.NewClient(serverURL, roomID, signaling.RoleServer, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	responder := tunnel.NewResponder(tunnel.ResponderConfig{
		Target:             targetURL,
		ChangeHostHeader:   cfg.Exit.ChangeHostHeader,
		ChangeOriginHeader: cfg.Exit.ChangeOriginHeader,
		Logger:             logger,
	})
	hub := tunnel.NewHub(tunnel.HubConfig{
		ICE:       transport.ICEConfigFromConfig(cfg.ICE),
		Responder: responder,
		Logger:    logger,
	})

	logger.Info("starting peertunnel-exit",
		"version", version.Info(),
		"room", roomID,
		"target", targetURL.String(),
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
		err := hub.Run(groupCtx, client.Inbound(), client)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
