// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/amqpconn/codec"
)

const noReturnPayload = "no_return"

// ReturnDetails are the basic.return arguments explaining why a message
// could not be delivered.
type ReturnDetails struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

// ReturnedMessage is an undeliverable message handed back by the broker.
type ReturnedMessage struct {
	Header  *codec.ContentHeader
	Payload []byte
	Details *ReturnDetails
}

// NoReturn reports whether m is the placeholder for "nothing was returned".
func (m *ReturnedMessage) NoReturn() bool {
	return m.Header == nil && m.Details == nil && string(m.Payload) == noReturnPayload
}

func noReturn() *ReturnedMessage {
	return &ReturnedMessage{Payload: []byte(noReturnPayload)}
}

// ReturnedMessage waits up to timeout (DefaultReturnTimeout when 0) for a
// basic.return and reassembles it from its header and body frames. If
// nothing arrives in time it returns a message whose NoReturn is true.
func (s *Session) ReturnedMessage(ctx context.Context, timeout time.Duration) (*ReturnedMessage, error) {
	if timeout <= 0 {
		timeout = DefaultReturnTimeout
	}
	if err := s.lockRead(ctx); err != nil {
		return nil, err
	}
	defer s.unlockRead()

	f, err := s.awaitReturn(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return noReturn(), nil
	}

	ret, err := decodeAs[*codec.BasicReturn](f, codec.FrameMethod)
	if err != nil {
		return nil, err
	}
	hf, err := s.nextContentFrame(ctx)
	if err != nil {
		return nil, err
	}
	header, err := decodeAs[*codec.ContentHeader](hf, codec.FrameHeader)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, min(header.BodySize, uint64(s.inboundFrameMax())))
	for uint64(len(payload)) < header.BodySize {
		bf, err := s.nextContentFrame(ctx)
		if err != nil {
			return nil, err
		}
		if bf.Type != codec.FrameBody {
			return nil, fmt.Errorf("%w: frame type %d while reading returned body", ErrUnexpectedFrame, bf.Type)
		}
		payload = append(payload, bf.Payload...)
	}

	s.metrics.recordReturned(ctx)
	s.logger.Debug("message returned",
		"reply_code", ret.ReplyCode,
		"exchange", ret.Exchange,
		"routing_key", ret.RoutingKey,
		"size", len(payload))

	return &ReturnedMessage{
		Header:  header,
		Payload: payload,
		Details: &ReturnDetails{
			ReplyCode:  ret.ReplyCode,
			ReplyText:  ret.ReplyText,
			Exchange:   ret.Exchange,
			RoutingKey: ret.RoutingKey,
		},
	}, nil
}

// awaitReturn reads the first frame of a returned message, skipping
// heartbeats that arrive inside the wait window. It returns nil when the
// window closes without one.
func (s *Session) awaitReturn(ctx context.Context, timeout time.Duration) (*codec.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		f, err := s.nextFrame(ctx, remaining)
		switch {
		case err == nil && f.Type == codec.FrameHeartbeat:
			continue
		case err == nil:
			return f, nil
		case errors.Is(err, ErrClientTimeout) && !errors.Is(err, ErrServerDown):
			return nil, nil
		default:
			return nil, err
		}
	}
}

// nextContentFrame skips heartbeats between the frames of one message.
func (s *Session) nextContentFrame(ctx context.Context) (*codec.Frame, error) {
	for {
		f, err := s.nextFrame(ctx, 0)
		if err != nil {
			return nil, err
		}
		if f.Type != codec.FrameHeartbeat {
			return f, nil
		}
	}
}

func decodeAs[T any](f *codec.Frame, frameType byte) (T, error) {
	var zero T
	if f.Type != frameType {
		return zero, fmt.Errorf("%w: got frame type %d, want %d", ErrUnexpectedFrame, f.Type, frameType)
	}
	p, err := f.Decode()
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedFrame, p)
	}
	return v, nil
}
