// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

const coopReadSize = 32 * 1024

// Cooperative is a transport whose events are dispatched by a Reactor.
// A Read that cannot be served from the inbound buffer suspends the calling
// goroutine on a one-shot resume channel until the reactor delivers more
// data. At most one Read may be suspended at a time.
type Cooperative struct {
	id      string
	reactor *Reactor
	logger  *slog.Logger

	mu        sync.Mutex
	buf       []byte
	resume    chan struct{}
	reading   bool
	connected bool
	closed    bool
	err       error
	conn      net.Conn
	outq      [][]byte
	wake      chan struct{}
	stop      chan struct{}
}

var _ Transport = (*Cooperative)(nil)

// DialCooperative starts an asynchronous connect on opts.Reactor and
// suspends until the reactor reports the connection established or failed.
func DialCooperative(ctx context.Context, opts Options) (*Cooperative, error) {
	r := opts.Reactor
	if r == nil {
		return nil, ErrNoReactor
	}
	if !r.Running() {
		return nil, fmt.Errorf("%w: reactor stopped", ErrClosed)
	}

	c := &Cooperative{
		id:      uuid.NewString(),
		reactor: r,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	c.logger = opts.logger().With(slog.String("conn_id", c.id))

	go func() {
		conn, err := opts.dialer()(ctx, "tcp", opts.Addr())
		if err == nil && opts.TLS {
			conn, err = clientTLS(ctx, conn, opts)
		}
		if err != nil {
			if !r.post(event{kind: eventUnbind, conn: c, err: err}) {
				c.unbind(err)
			}
			return
		}
		if !r.post(event{kind: eventConnected, conn: c, net: conn}) {
			conn.Close()
			c.unbind(ErrClosed)
		}
	}()

	if err := c.awaitConnected(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Debug("cooperative connection established", slog.String("addr", opts.Addr()))
	return c, nil
}

func (c *Cooperative) awaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch {
		case c.connected:
			c.mu.Unlock()
			return nil
		case c.closed:
			err := c.closeErr()
			c.mu.Unlock()
			return err
		}
		w, err := c.suspendLocked()
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if err := c.wait(ctx, w); err != nil {
			return err
		}
	}
}

// Read returns exactly n bytes in arrival order. A Read issued while another
// is in progress fails with ErrReadPending without consuming buffered bytes.
// Once the connection is closed, Read only drains bytes that were already
// buffered.
func (c *Cooperative) Read(ctx context.Context, n int) ([]byte, error) {
	c.mu.Lock()
	if c.reading {
		c.mu.Unlock()
		return nil, ErrReadPending
	}
	c.reading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reading = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if len(c.buf) >= n {
			out := make([]byte, n)
			copy(out, c.buf)
			c.buf = append(c.buf[:0], c.buf[n:]...)
			c.mu.Unlock()
			return out, nil
		}
		if c.closed {
			err := c.closeErr()
			c.mu.Unlock()
			return nil, err
		}
		w, err := c.suspendLocked()
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if err := c.wait(ctx, w); err != nil {
			return nil, err
		}
	}
}

// Write queues p on the outbound path and returns without waiting for
// delivery.
func (c *Cooperative) Write(_ context.Context, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr()
	}
	c.outq = append(c.outq, append([]byte(nil), p...))
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the connection closed and asks the reactor to tear it down.
func (c *Cooperative) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.err = ErrClosed
	c.resumeLocked()
	c.mu.Unlock()

	c.reactor.post(event{kind: eventClose, conn: c})
	return nil
}

func (c *Cooperative) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Buffered returns the number of bytes waiting to be read.
func (c *Cooperative) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *Cooperative) suspendLocked() (chan struct{}, error) {
	if c.resume != nil {
		return nil, ErrReadPending
	}
	c.resume = make(chan struct{})
	return c.resume, nil
}

func (c *Cooperative) wait(ctx context.Context, w chan struct{}) error {
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.resume == w {
			c.resume = nil
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// resumeLocked wakes the suspended reader, if any. Each suspension is
// resumed at most once.
func (c *Cooperative) resumeLocked() {
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
}

func (c *Cooperative) closeErr() error {
	if c.err == nil || c.err == ErrClosed {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, c.err)
}

// Reactor callbacks; all run on the loop goroutine.

func (c *Cooperative) connectionCompleted(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return false
	}
	c.conn = conn
	c.connected = true
	c.resumeLocked()
	return true
}

func (c *Cooperative) receiveData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, data...)
	c.resumeLocked()
}

func (c *Cooperative) unbind(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		close(c.stop)
	}
	if !c.closed {
		c.closed = true
		c.err = err
	}
	c.resumeLocked()
}

// Network goroutines.

func (c *Cooperative) readLoop(conn net.Conn) {
	buf := make([]byte, coopReadSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !c.reactor.post(event{kind: eventData, conn: c, data: data}) {
				return
			}
		}
		if err != nil {
			c.reactor.post(event{kind: eventUnbind, conn: c, err: err})
			return
		}
	}
}

func (c *Cooperative) writeLoop(conn net.Conn) {
	for {
		select {
		case <-c.wake:
		case <-c.stop:
			return
		}
		c.mu.Lock()
		q := c.outq
		c.outq = nil
		c.mu.Unlock()

		for _, p := range q {
			if _, err := conn.Write(p); err != nil {
				c.logger.Debug("cooperative write failed", slog.String("error", err.Error()))
				c.reactor.post(event{kind: eventUnbind, conn: c, err: err})
				return
			}
		}
	}
}
