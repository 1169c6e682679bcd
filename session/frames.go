// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/absmach/amqpconn/codec"
	"github.com/absmach/amqpconn/internal/bufpool"
	"github.com/absmach/amqpconn/transport"
)

// NextFrame reads one frame. A positive timeout bounds only the wait for the
// frame to start; if it expires the error wraps ErrClientTimeout and the
// connection stays usable. The rest of the frame is read under the socket
// timeout.
func (s *Session) NextFrame(ctx context.Context, timeout time.Duration) (*codec.Frame, error) {
	if err := s.lockRead(ctx); err != nil {
		return nil, err
	}
	defer s.unlockRead()
	return s.nextFrame(ctx, timeout)
}

// NextPayload reads one frame and decodes it: a codec.Method, a
// *codec.ContentHeader, a body []byte, or nil for a heartbeat.
func (s *Session) NextPayload(ctx context.Context) (any, error) {
	f, err := s.NextFrame(ctx, 0)
	if err != nil {
		return nil, err
	}
	return f.Decode()
}

func (s *Session) nextFrame(ctx context.Context, timeout time.Duration) (*codec.Frame, error) {
	hdr, err := s.readFrameHeader(ctx, timeout)
	if err != nil {
		return nil, err
	}
	h, err := codec.ParseFrameHeader(hdr)
	if err != nil {
		return nil, err
	}
	if fm := s.inboundFrameMax(); uint64(h.Size)+codec.FrameOverhead > uint64(fm) {
		return nil, s.abort(ctx, codec.NewErr(codec.FrameError,
			fmt.Sprintf("inbound frame of %d bytes exceeds frame_max %d", h.Size, fm), nil))
	}

	rest, err := s.read(ctx, int(h.Size)+1)
	if err != nil {
		return nil, err
	}
	f, err := codec.AssembleFrame(h, rest)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	s.metrics.recordFrameReceived(ctx, f.Type)
	return f, nil
}

// inboundFrameMax bounds frames read from the broker. An unset frame_max
// falls back to DefaultFrameMax.
func (s *Session) inboundFrameMax() uint32 {
	if s.opts.FrameMax == 0 {
		return DefaultFrameMax
	}
	return s.opts.FrameMax
}

func (s *Session) readFrameHeader(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return s.read(ctx, codec.FrameHeaderSize)
	}
	for {
		t, err := s.live(ctx)
		if err != nil {
			return nil, err
		}

		wctx, cancel := context.WithTimeout(ctx, timeout)
		b, err := t.Read(wctx, codec.FrameHeaderSize)
		expired := wctx.Err() != nil && ctx.Err() == nil
		cancel()

		switch {
		case err == nil:
			s.metrics.recordRead(ctx, len(b))
			return b, nil
		case expired && transport.IsTimeout(err):
			return nil, fmt.Errorf("%w: no frame within %s", ErrClientTimeout, timeout)
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, transport.ErrReadPending):
			return nil, err
		default:
			return nil, s.fail(ctx, t, opRead, err)
		}
	}
}

// abort drops the connection after the inbound stream lost frame alignment.
func (s *Session) abort(ctx context.Context, cause error) error {
	s.mu.Lock()
	t := s.conn
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: %s: %w", ErrServerDown, opRead, cause)
	}
	return s.fail(ctx, t, opRead, cause)
}

// WriteFrame encodes f and writes it. Frames larger than FrameMax are
// rejected before anything is sent.
func (s *Session) WriteFrame(ctx context.Context, f *codec.Frame) error {
	if fm := s.opts.FrameMax; fm > 0 && f.Size() > int(fm) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, f.Size(), fm)
	}

	buf := bufpool.Get(f.Size())
	defer bufpool.Put(buf)
	if err := f.WriteFrame(buf); err != nil {
		return err
	}
	if err := s.Write(ctx, buf.Bytes()); err != nil {
		return err
	}
	s.metrics.recordFrameSent(ctx, f.Type)
	return nil
}

// SendMethod writes m as a method frame on channel.
func (s *Session) SendMethod(ctx context.Context, channel uint16, m codec.Method) error {
	f, err := codec.NewMethodFrame(channel, m)
	if err != nil {
		return err
	}
	return s.WriteFrame(ctx, f)
}
