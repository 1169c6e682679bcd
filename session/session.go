// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session manages one client connection to an AMQP 0-9-1 broker:
// its lifecycle, the transport it runs on, the channel registry, timeouts
// and the translation of transport failures into session errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/absmach/amqpconn/codec"
	ptls "github.com/absmach/amqpconn/pkg/tls"
	"github.com/absmach/amqpconn/transport"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	opRead  = "read"
	opWrite = "write"
)

var errRateLimited = errors.New("connect attempt rate limited")

// Session is a client connection to a broker. The transport is created on
// Connect or lazily by the first Read or Write. A Session is safe for
// concurrent use; reads are serialized so a frame is never split between
// callers.
type Session struct {
	id      uuid.UUID
	opts    Options
	addr    string
	factory transport.Factory
	logger  *slog.Logger
	metrics *Metrics
	breaker *gobreaker.CircuitBreaker

	state      stateManager
	connecting atomic.Bool

	dialMu sync.Mutex    // serializes connection attempts
	readMu chan struct{} // held by the goroutine consuming the inbound stream

	mu       sync.Mutex
	conn     transport.Transport
	down     bool // set by an I/O failure; cleared by Connect and Close
	closing  bool
	closeGen uint64 // bumped by every Close
	channels []*Channel
	active   *Channel
}

// New creates a session. It performs no network I/O.
func New(opts *Options) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	o := opts.normalize()

	factory, err := transport.Resolve(o.Transport)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	addr := o.transportOptions().Addr()
	s := &Session{
		id:      id,
		opts:    o,
		addr:    addr,
		factory: factory,
		metrics: o.Metrics,
		readMu:  make(chan struct{}, 1),
		logger: o.Logger.With(
			slog.String("session", id.String()),
			slog.String("addr", addr),
		),
	}
	if o.Breaker != nil {
		s.breaker = newBreaker(addr, *o.Breaker, s.logger)
	}
	s.resetChannelsLocked()
	return s, nil
}

// Connect establishes the transport if there is none, bounded by the
// connect timeout. It clears a previous ServerDown condition.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.down = false
	s.mu.Unlock()

	_, err := s.connect(ctx)
	return err
}

func (s *Session) connect(ctx context.Context) (transport.Transport, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if t := s.conn; t != nil && !t.Closed() {
		s.mu.Unlock()
		return t, nil
	}
	stale := s.conn
	s.conn = nil
	gen := s.closeGen
	s.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
		s.metrics.recordDisconnect(ctx, s.opts.Transport.String())
	}

	s.connecting.Store(true)
	defer s.connecting.Store(false)
	s.state.set(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	kind := s.opts.Transport.String()
	start := time.Now()
	t, err := s.dial(dctx)
	if err != nil {
		s.state.set(StateNotConnected)
		if transport.IsTimeout(err) || errors.Is(err, errRateLimited) {
			s.metrics.recordConnectFailure(ctx, kind, "timeout")
			s.logger.Warn("connect timed out", slog.Duration("timeout", s.opts.ConnectTimeout))
			return nil, fmt.Errorf("%w: %s after %s: %w", ErrConnectTimeout, s.addr, s.opts.ConnectTimeout, err)
		}
		s.metrics.recordConnectFailure(ctx, kind, "error")
		s.logger.Warn("connect failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrServerDown, err)
	}

	s.mu.Lock()
	if s.closing || s.closeGen != gen {
		s.mu.Unlock()
		_ = t.Close()
		s.state.set(StateNotConnected)
		s.logger.Debug("connect abandoned, session closed meanwhile")
		return nil, fmt.Errorf("%w: closed while connecting", ErrNotConnected)
	}
	s.conn = t
	s.down = false
	s.state.transition(StateConnecting, StateConnected)
	s.mu.Unlock()

	s.metrics.recordConnect(ctx, kind, time.Since(start).Seconds())
	s.logger.Info("connected",
		slog.String("transport", kind),
		slog.String("security", ptls.SecurityStatus(s.opts.TLS, s.opts.VerifyTLS, s.opts.TLSConfig)))
	return t, nil
}

func (s *Session) dial(ctx context.Context) (transport.Transport, error) {
	if l := s.opts.ConnectLimiter; l != nil {
		if err := l.Wait(ctx, s.addr); err != nil {
			return nil, fmt.Errorf("%w: %w", errRateLimited, err)
		}
	}

	topts := s.opts.transportOptions()
	topts.Logger = s.logger
	if s.breaker == nil {
		return s.factory(ctx, topts)
	}
	v, err := s.breaker.Execute(func() (any, error) {
		return s.factory(ctx, topts)
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Transport), nil
}

// live returns the current transport, connecting lazily when there is none.
func (s *Session) live(ctx context.Context) (transport.Transport, error) {
	s.mu.Lock()
	t, down, closing := s.conn, s.down, s.closing
	s.mu.Unlock()

	switch {
	case down:
		return nil, fmt.Errorf("%w: %w", ErrServerDown, ErrNotConnected)
	case t != nil && !t.Closed():
		return t, nil
	case closing:
		return nil, ErrNotConnected
	}
	return s.connect(ctx)
}

// do runs fn against the live transport under the socket timeout. Any
// transport failure drops the connection and surfaces as ErrServerDown.
func (s *Session) do(ctx context.Context, op string, fn func(context.Context, transport.Transport) error) error {
	t, err := s.live(ctx)
	if err != nil {
		return err
	}
	if d := s.opts.SocketTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	err = fn(ctx, t)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrReadPending):
		return err
	case op == opRead && errors.Is(err, syscall.EINTR):
		return err
	default:
		return s.fail(ctx, t, op, err)
	}
}

// fail force-closes t and, if t is still the session's transport, marks the
// session down.
func (s *Session) fail(ctx context.Context, t transport.Transport, op string, cause error) error {
	s.mu.Lock()
	owned := s.conn == t
	if owned {
		s.conn = nil
		s.down = true
	}
	s.mu.Unlock()
	_ = t.Close()

	if owned {
		s.state.set(StateNotConnected)
		s.metrics.recordDisconnect(ctx, s.opts.Transport.String())
		s.metrics.recordServerDown(ctx, op)
		s.logger.Warn("connection dropped", slog.String("op", op), slog.String("error", cause.Error()))
	}

	if transport.IsTimeout(cause) {
		return fmt.Errorf("%w: %s: %w: %w", ErrServerDown, op, ErrClientTimeout, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrServerDown, op, cause)
}

func (s *Session) lockRead(ctx context.Context) error {
	select {
	case s.readMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting for concurrent reader: %w", ErrClientTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}

func (s *Session) unlockRead() {
	<-s.readMu
}

// Read returns exactly n bytes from the broker. Interrupted reads are retried.
func (s *Session) Read(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if err := s.lockRead(ctx); err != nil {
		return nil, err
	}
	defer s.unlockRead()
	return s.read(ctx, n)
}

func (s *Session) read(ctx context.Context, n int) ([]byte, error) {
	for {
		var b []byte
		err := s.do(ctx, opRead, func(ctx context.Context, t transport.Transport) (err error) {
			b, err = t.Read(ctx, n)
			return err
		})
		if errors.Is(err, syscall.EINTR) {
			s.logger.Debug("read interrupted, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.metrics.recordRead(ctx, n)
		return b, nil
	}
}

// Write sends p to the broker.
func (s *Session) Write(ctx context.Context, p []byte) error {
	err := s.do(ctx, opWrite, func(ctx context.Context, t transport.Transport) error {
		return t.Write(ctx, p)
	})
	if err != nil {
		return err
	}
	s.metrics.recordWrite(ctx, len(p))
	return nil
}

// SendProtocolHeader writes the AMQP 0-9-1 protocol header that opens a
// connection handshake.
func (s *Session) SendProtocolHeader(ctx context.Context) error {
	return s.Write(ctx, codec.ProtocolHeader)
}

// Close shuts the connection down: open channels other than 0 are closed
// through the Protocol, then the connection itself, each step bounded by the
// disconnect timeout. Failures are logged and counted but never returned.
// Afterwards the session holds only a fresh channel 0 and no transport.
func (s *Session) Close() error {
	s.mu.Lock()
	t := s.conn
	s.closing = true
	s.closeGen++
	channels := slices.Clone(s.channels)
	s.mu.Unlock()

	defer s.cleanup(t)

	if t == nil || t.Closed() {
		return nil
	}

	var errs []error
	for _, ch := range channels {
		if ch.Index() == 0 || !ch.IsOpen() {
			continue
		}
		if err := s.step(func(ctx context.Context) error {
			return s.opts.Protocol.CloseChannel(ctx, s, ch)
		}); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch, err))
		}
	}
	if err := s.step(func(ctx context.Context) error {
		return s.opts.Protocol.CloseConnection(ctx, s)
	}); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.metrics.recordCloseErrors(context.Background(), len(errs))
		s.logger.Warn("session closed with errors",
			slog.Int("count", len(errs)),
			slog.String("error", err.Error()))
		return nil
	}
	s.logger.Info("session closed")
	return nil
}

// step runs one shutdown step under the disconnect timeout, converting a
// panic into an error so cleanup still runs.
func (s *Session) step(fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DisconnectTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Session) cleanup(t transport.Transport) {
	s.mu.Lock()
	cur := s.conn
	s.conn = nil
	s.down = false
	s.closing = false
	s.resetChannelsLocked()
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if cur != nil {
		if cur != t {
			_ = cur.Close()
		}
		s.metrics.recordDisconnect(context.Background(), s.opts.Transport.String())
	}
	s.state.set(StateNotConnected)
}

func (s *Session) resetChannelsLocked() {
	ch0 := newChannel(0)
	s.channels = []*Channel{ch0}
	s.active = ch0
}

// SwitchChannel makes channel i active. An index outside [0, ChannelCount())
// returns ErrInvalidChannel and leaves the active channel unchanged.
func (s *Session) SwitchChannel(i int) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.channels) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidChannel, i, len(s.channels))
	}
	s.active = s.channels[i]
	return s.active, nil
}

// AddChannel registers an open channel at the next index.
func (s *Session) AddChannel() (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := len(s.channels)
	if next > math.MaxUint16 || (s.opts.ChannelMax > 0 && next > int(s.opts.ChannelMax)) {
		return nil, fmt.Errorf("%w: %d", ErrChannelMax, s.opts.ChannelMax)
	}
	ch := newChannel(next)
	s.channels = append(s.channels, ch)
	return ch, nil
}

// Channels returns the registered channels in index order.
func (s *Session) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.channels)
}

// Channel returns the active channel.
func (s *Session) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func (s *Session) Status() State      { return s.state.get() }
func (s *Session) IsConnected() bool  { return s.state.get() == StateConnected }
func (s *Session) IsConnecting() bool { return s.connecting.Load() }

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id.String() }

func (s *Session) Host() string                     { return s.opts.Host }
func (s *Session) Port() int                        { return s.opts.Port }
func (s *Session) Vhost() string                    { return s.opts.Vhost }
func (s *Session) Username() string                 { return s.opts.Username }
func (s *Session) Password() string                 { return s.opts.Password }
func (s *Session) TLS() bool                        { return s.opts.TLS }
func (s *Session) VerifyTLS() bool                  { return s.opts.VerifyTLS }
func (s *Session) FrameMax() uint32                 { return s.opts.FrameMax }
func (s *Session) ChannelMax() uint16               { return s.opts.ChannelMax }
func (s *Session) Heartbeat() time.Duration         { return s.opts.Heartbeat }
func (s *Session) ConnectTimeout() time.Duration    { return s.opts.ConnectTimeout }
func (s *Session) SocketTimeout() time.Duration     { return s.opts.SocketTimeout }
func (s *Session) DisconnectTimeout() time.Duration { return s.opts.DisconnectTimeout }
func (s *Session) TransportKind() transport.Kind    { return s.opts.Transport }
