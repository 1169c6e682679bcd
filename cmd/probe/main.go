// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command probe opens an AMQP 0-9-1 connection, prints the broker's
// connection.start announcement and closes the connection again.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/absmach/amqpconn/codec"
	"github.com/absmach/amqpconn/config"
	"github.com/absmach/amqpconn/session"
	"github.com/absmach/amqpconn/telemetry"
	"github.com/absmach/amqpconn/transport"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	url := flag.String("url", "", "Broker URL, overrides connection settings from the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Connection.URL = *url
	}

	if err := run(cfg, os.Stdout); err != nil {
		slog.Error("Probe failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var reactor *transport.Reactor
	if cfg.Connection.ConnectionType == transport.KindCooperative.String() {
		reactor = transport.NewReactor(logger)
		defer reactor.Close()
	}

	opts, err := cfg.SessionOptions(reactor)
	if err != nil {
		return fmt.Errorf("failed to build session options: %w", err)
	}
	opts.SetLogger(logger)

	var provider *telemetry.Provider
	if cfg.Metrics.Enabled {
		provider, err = telemetry.New(ctx, cfg.Metrics.ServiceName, cfg.Connection.Host)
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())

		metrics, err := session.NewMetrics(provider.MeterProvider())
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		opts.SetMetrics(metrics)
	}

	s, err := session.New(opts)
	if err != nil {
		return err
	}

	start, err := handshake(ctx, s)
	if cerr := s.Close(); cerr != nil {
		logger.Warn("Close failed", "error", cerr)
	}
	if err != nil {
		return err
	}
	printStart(out, s, start)

	if provider != nil {
		fmt.Fprintln(out, "metrics:")
		return provider.Dump(ctx, out)
	}
	return nil
}

func handshake(ctx context.Context, s *session.Session) (*codec.ConnectionStart, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	if err := s.SendProtocolHeader(ctx); err != nil {
		return nil, err
	}
	for {
		payload, err := s.NextPayload(ctx)
		if err != nil {
			return nil, err
		}
		switch p := payload.(type) {
		case nil:
			continue
		case *codec.ConnectionStart:
			return p, nil
		default:
			return nil, fmt.Errorf("%w: %T", session.ErrUnexpectedFrame, payload)
		}
	}
}

func printStart(w io.Writer, s *session.Session, start *codec.ConnectionStart) {
	fmt.Fprintf(w, "broker: %s:%d (%s)\n", s.Host(), s.Port(), s.TransportKind())
	fmt.Fprintf(w, "protocol: %d-%d\n", start.VersionMajor, start.VersionMinor)
	fmt.Fprintf(w, "mechanisms: %s\n", start.Mechanisms)
	fmt.Fprintf(w, "locales: %s\n", start.Locales)

	keys := make([]string, 0, len(start.ServerProperties))
	for k := range start.ServerProperties {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, start.ServerProperties[k])
	}
}
