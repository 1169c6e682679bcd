// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/absmach/amqpconn/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicReturn() *codec.BasicReturn {
	return &codec.BasicReturn{
		ReplyCode:  codec.NoRoute,
		ReplyText:  "NO_ROUTE",
		Exchange:   "orders",
		RoutingKey: "eu.created",
	}
}

func TestReturnedMessageNone(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))

	start := time.Now()
	msg, err := s.ReturnedMessage(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, msg.NoReturn())
	assert.Nil(t, msg.Header)
	assert.Nil(t, msg.Details)
	assert.Equal(t, []byte("no_return"), msg.Payload)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.False(t, d.last().Closed())
}

func TestReturnedMessageDefaultTimeout(t *testing.T) {
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))

	start := time.Now()
	msg, err := s.ReturnedMessage(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, msg.NoReturn())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestReturnedMessageReassemblesBody(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))
	d.last().feed(
		methodFrame(t, 1, basicReturn()),
		headerFrame(t, 1, 10),
		bodyFrame(t, 1, "012345"),
		heartbeatFrame(t),
		bodyFrame(t, 1, "6789"),
	)

	msg, err := s.ReturnedMessage(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, msg.NoReturn())
	assert.Len(t, msg.Payload, 10)
	assert.Equal(t, []byte("0123456789"), msg.Payload)
	require.NotNil(t, msg.Header)
	assert.Equal(t, uint64(10), msg.Header.BodySize)
	assert.Equal(t, &ReturnDetails{
		ReplyCode:  codec.NoRoute,
		ReplyText:  "NO_ROUTE",
		Exchange:   "orders",
		RoutingKey: "eu.created",
	}, msg.Details)
}

func TestReturnedMessageSkipsLeadingHeartbeats(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))
	d.last().feed(
		heartbeatFrame(t),
		heartbeatFrame(t),
		methodFrame(t, 1, basicReturn()),
		headerFrame(t, 1, 2),
		bodyFrame(t, 1, "ok"),
	)

	msg, err := s.ReturnedMessage(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, msg.NoReturn())
	assert.Equal(t, []byte("ok"), msg.Payload)
	assert.Equal(t, "orders", msg.Details.Exchange)
}

func TestReturnedMessageHeartbeatOnly(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))
	d.last().feed(heartbeatFrame(t))

	start := time.Now()
	msg, err := s.ReturnedMessage(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, msg.NoReturn())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.False(t, d.last().Closed())
}

func TestReturnedMessageEmptyBody(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))
	d.last().feed(methodFrame(t, 1, basicReturn()), headerFrame(t, 1, 0))

	msg, err := s.ReturnedMessage(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, msg.Payload)
	assert.NotNil(t, msg.Details)
}

func TestReturnedMessageUnexpectedFrame(t *testing.T) {
	tests := []struct {
		name   string
		frames func(t *testing.T) [][]byte
	}{
		{
			name: "other method",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{methodFrame(t, 1, &codec.ChannelCloseOk{})}
			},
		},
		{
			name: "body instead of header",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{methodFrame(t, 1, basicReturn()), bodyFrame(t, 1, "x")}
			},
		},
		{
			name: "method inside body",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{
					methodFrame(t, 1, basicReturn()),
					headerFrame(t, 1, 4),
					methodFrame(t, 1, basicReturn()),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d := newTestSession(t, nil)
			require.NoError(t, s.Connect(context.Background()))
			d.last().feed(tt.frames(t)...)

			_, err := s.ReturnedMessage(context.Background(), time.Second)
			assert.ErrorIs(t, err, ErrUnexpectedFrame)
		})
	}
}

func TestReturnedMessageServerDown(t *testing.T) {
	s, d := newTestSession(t, nil)
	require.NoError(t, s.Connect(context.Background()))
	d.last().failReads(io.ErrUnexpectedEOF)

	msg, err := s.ReturnedMessage(context.Background(), 50*time.Millisecond)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrServerDown)
	assert.True(t, d.last().Closed())
}
