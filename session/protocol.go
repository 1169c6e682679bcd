// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/absmach/amqpconn/codec"
)

const closeReplyText = "Goodbye"

// Protocol performs the protocol-level half of a shutdown. Session.Close
// calls CloseChannel for every open channel except 0, then CloseConnection,
// each under the disconnect timeout.
type Protocol interface {
	CloseChannel(ctx context.Context, s *Session, ch *Channel) error
	CloseConnection(ctx context.Context, s *Session) error
}

// FrameProtocol closes channels and the connection with channel.close and
// connection.close and waits for the matching -ok reply.
type FrameProtocol struct{}

var _ Protocol = FrameProtocol{}

func (FrameProtocol) CloseChannel(ctx context.Context, s *Session, ch *Channel) error {
	if err := s.SendMethod(ctx, ch.ID(), &codec.ChannelClose{
		ReplyCode: codec.ReplySuccess,
		ReplyText: closeReplyText,
	}); err != nil {
		return err
	}
	if err := awaitCloseOk(ctx, s, ch.ID()); err != nil {
		return err
	}
	ch.SetOpen(false)
	return nil
}

func (FrameProtocol) CloseConnection(ctx context.Context, s *Session) error {
	if err := s.SendMethod(ctx, 0, &codec.ConnectionClose{
		ReplyCode: codec.ReplySuccess,
		ReplyText: closeReplyText,
	}); err != nil {
		return err
	}
	return awaitCloseOk(ctx, s, 0)
}

// awaitCloseOk reads until the close-ok for channel arrives, skipping
// unrelated frames. Channel 0 waits for connection.close-ok.
func awaitCloseOk(ctx context.Context, s *Session, channel uint16) error {
	for {
		f, err := s.NextFrame(ctx, 0)
		if err != nil {
			return err
		}
		if f.Type != codec.FrameMethod {
			continue
		}
		m, err := codec.DecodeMethod(f.Payload)
		if err != nil {
			return err
		}

		switch m := m.(type) {
		case *codec.ConnectionCloseOk:
			if channel == 0 {
				return nil
			}
		case *codec.ChannelCloseOk:
			if f.Channel == channel {
				return nil
			}
		case *codec.ChannelClose:
			// Both sides closed at once: acknowledge the broker's close.
			if f.Channel == channel && channel != 0 {
				return s.SendMethod(ctx, channel, &codec.ChannelCloseOk{})
			}
		case *codec.ConnectionClose:
			if channel == 0 {
				return s.SendMethod(ctx, 0, &codec.ConnectionCloseOk{})
			}
			return fmt.Errorf("%w: broker closed the connection: %d %s",
				ErrUnexpectedFrame, m.ReplyCode, m.ReplyText)
		}
	}
}
