// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peertunnel-intercept serves the interception context: a local HTTP
// origin whose requests are forwarded over the page link and through
// the tunnel. Tunnel infrastructure paths and foreign origins pass
// through untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/requestlog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/peertunnel/bridge"
	"github.com/bureau-foundation/peertunnel/lib/config"
	"github.com/bureau-foundation/peertunnel/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, listen, socketPath string
	var verbose, requestLog, showVersion bool

	flagSet := pflag.NewFlagSet("peertunnel-intercept", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to peertunnel.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVarP(&listen, "listen", "l", "", "address to listen on (overrides intercept.listen)")
	flagSet.StringVar(&socketPath, "socket", "", "page link socket to dial (overrides page.link_socket)")
	flagSet.BoolVar(&requestLog, "request-log", false, "log every intercepted request")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("peertunnel-intercept %s\n", version.Full())
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
		cfg.Intercept.Listen = listen
	}
	if socketPath != "" {
		cfg.Page.LinkSocket = socketPath
	}

	origin, err := url.Parse(cfg.Intercept.Origin)
	if err != nil {
		return fmt.Errorf("parsing intercept origin: %w", err)
	}

	interceptor := bridge.NewInterceptor(bridge.InterceptorConfig{
		Origin:         origin,
		ReservedPrefix: cfg.Intercept.ReservedPrefix,
		ReplyTimeout:   cfg.Intercept.ReplyTimeout,
		RedialMax:      cfg.Intercept.RedialMax,
		Logger:         logger,
	})

	var handler http.Handler = interceptor
	if requestLog {
		handler = requestlog.Wrap(handler)
	}
	httpServer := &http.Server{
		Addr:              cfg.Intercept.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting peertunnel-intercept",
		"version", version.Info(),
		"listen", cfg.Intercept.Listen,
		"origin", origin.String(),
		"link_socket", cfg.Page.LinkSocket,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := interceptor.Run(groupCtx, bridge.UnixDialer(cfg.Page.LinkSocket))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
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
