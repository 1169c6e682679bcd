// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const readChunk = 4096

// Socket is a blocking transport over a TCP (optionally TLS) connection.
type Socket struct {
	conn    net.Conn
	logger  *slog.Logger
	pending []byte
	scratch []byte
	closed  atomic.Bool
}

var _ Transport = (*Socket)(nil)

// DialSocket connects to opts.Addr(). The dial and the TLS handshake are
// bounded by ctx.
func DialSocket(ctx context.Context, opts Options) (*Socket, error) {
	conn, err := opts.dialer()(ctx, "tcp", opts.Addr())
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if opts.TLS {
		if conn, err = clientTLS(ctx, conn, opts); err != nil {
			return nil, err
		}
	}

	logger := opts.logger()
	logger.Debug("socket connected", slog.String("addr", opts.Addr()), slog.Bool("tls", opts.TLS))

	return &Socket{
		conn:    conn,
		logger:  logger,
		scratch: make([]byte, readChunk),
	}, nil
}

// Read returns exactly n bytes. Bytes received before a failed read are kept
// and returned by the next call.
func (s *Socket) Read(ctx context.Context, n int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	stop := bindDeadline(ctx, s.conn.SetReadDeadline)
	defer stop()

	// pending only grows by what the peer actually sent.
	for len(s.pending) < n {
		m, err := s.conn.Read(s.scratch)
		s.pending = append(s.pending, s.scratch[:m]...)
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
	}

	out := make([]byte, n)
	copy(out, s.pending)
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return out, nil
}

// Write writes p in full.
func (s *Socket) Write(ctx context.Context, p []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	stop := bindDeadline(ctx, s.conn.SetWriteDeadline)
	defer stop()

	if _, err := s.conn.Write(p); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug("socket closed", slog.String("addr", s.conn.RemoteAddr().String()))
	return s.conn.Close()
}

func (s *Socket) Closed() bool {
	return s.closed.Load()
}

// bindDeadline applies ctx's deadline through set and forces an immediate
// deadline if ctx is cancelled. The returned func detaches the cancellation.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	if ctx.Done() == nil {
		return func() {}
	}

	var mu sync.Mutex
	active := true
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if active {
			_ = set(time.Now())
		}
	})
	return func() {
		mu.Lock()
		active = false
		mu.Unlock()
		stop()
	}
}

// ctxErr prefers the context's error when the context caused the failure.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && (IsTimeout(err) || errors.Is(err, net.ErrClosed)) {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}
