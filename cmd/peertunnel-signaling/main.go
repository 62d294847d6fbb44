// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peertunnel-signaling hosts signaling rooms. Peers exchange offers,
// answers and ICE candidates through it to set up a tunnel; tunneled
// traffic never passes through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/peertunnel/lib/config"
	"github.com/bureau-foundation/peertunnel/lib/version"
	"github.com/bureau-foundation/peertunnel/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, listen string
	var verbose, showVersion bool

	flagSet := pflag.NewFlagSet("peertunnel-signaling", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to peertunnel.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVarP(&listen, "listen", "l", "", "address to listen on (overrides signaling.listen)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("peertunnel-signaling %s\n", version.Full())
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
	if listen != "" {
		cfg.Signaling.Listen = listen
	}

	server := signaling.NewServer(signaling.ServerConfig{
		AllowedOrigins: cfg.Signaling.AllowedOrigins,
		RequestLog:     cfg.Signaling.RequestLog,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Signaling.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting peertunnel-signaling",
			"version", version.Info(),
			"listen", cfg.Signaling.Listen,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
