// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the byte-stream connections a session runs on:
// a blocking socket (plain or TLS) and a cooperative socket driven by a
// shared Reactor.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
)

// Transport errors.
var (
	ErrClosed      = errors.New("transport closed")
	ErrReadPending = errors.New("another read is already pending on this connection")
	ErrUnknownKind = errors.New("unknown transport kind")
	ErrNoReactor   = errors.New("cooperative transport requires a reactor")
)

// Transport is a raw connection to the broker.
type Transport interface {
	// Read returns exactly n bytes, blocking until they are available or ctx ends.
	Read(ctx context.Context, n int) ([]byte, error)
	// Write hands p to the connection.
	Write(ctx context.Context, p []byte) error
	Close() error
	Closed() bool
}

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a transport connection.
type Options struct {
	Host      string
	Port      int
	TLS       bool
	VerifyTLS bool
	TLSConfig *tls.Config // Base TLS configuration; cloned per connection
	Dial      DialFunc    // Defaults to net.Dialer.DialContext
	Reactor   *Reactor    // Required by KindCooperative
	Logger    *slog.Logger
}

// Addr returns the host:port the transport connects to.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) dialer() DialFunc {
	if o.Dial != nil {
		return o.Dial
	}
	d := &net.Dialer{}
	return d.DialContext
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Factory connects a transport. The connect is bounded by ctx.
type Factory func(ctx context.Context, opts Options) (Transport, error)

// Kind names a transport variant.
type Kind uint8

// Transport kinds.
const (
	KindSocket Kind = iota + 1
	KindCooperative
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindCooperative:
		return "cooperative"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "socket":
		return KindSocket, nil
	case "cooperative":
		return KindCooperative, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// Resolve returns the factory for kind.
func Resolve(kind Kind) (Factory, error) {
	switch kind {
	case KindSocket:
		return func(ctx context.Context, opts Options) (Transport, error) {
			s, err := DialSocket(ctx, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	case KindCooperative:
		return func(ctx context.Context, opts Options) (Transport, error) {
			c, err := DialCooperative(ctx, opts)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func clientTLS(ctx context.Context, conn net.Conn, opts Options) (net.Conn, error) {
	var cfg *tls.Config
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = opts.Host
	}
	cfg.InsecureSkipVerify = !opts.VerifyTLS

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", opts.Addr(), err)
	}
	return tc, nil
}
