// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Frame is a single AMQP 0-9-1 frame.
type Frame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// Header is the fixed prefix of a frame.
type Header struct {
	Type    byte
	Channel uint16
	Size    uint32
}

// ParseFrameHeader decodes the seven-byte frame prefix.
func ParseFrameHeader(b []byte) (Header, error) {
	if len(b) < FrameHeaderSize {
		return Header{}, NewErr(FrameError, "short frame header", nil)
	}
	return Header{
		Type:    b[0],
		Channel: binary.BigEndian.Uint16(b[1:3]),
		Size:    binary.BigEndian.Uint32(b[3:7]),
	}, nil
}

// ReadFrame reads a single frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := ParseFrameHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	rest := make([]byte, int(h.Size)+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return AssembleFrame(h, rest)
}

// AssembleFrame builds a frame from its header and the payload followed by
// the frame-end octet.
func AssembleFrame(h Header, rest []byte) (*Frame, error) {
	if len(rest) != int(h.Size)+1 {
		return nil, NewErr(FrameError, "frame size mismatch", nil)
	}
	if rest[h.Size] != FrameEnd {
		return nil, NewErr(FrameError, "malformed frame: incorrect frame-end marker", nil)
	}
	return &Frame{
		Type:    h.Type,
		Channel: h.Channel,
		Payload: rest[:h.Size],
	}, nil
}

// WriteFrame writes the frame to w.
func (f *Frame) WriteFrame(w io.Writer) error {
	if err := WriteOctet(w, f.Type); err != nil {
		return err
	}
	if err := WriteShort(w, f.Channel); err != nil {
		return err
	}
	if err := WriteLong(w, uint32(len(f.Payload))); err != nil {
		return err
	}
	if _, err := w.Write(f.Payload); err != nil {
		return err
	}
	return WriteOctet(w, FrameEnd)
}

// Size returns the encoded size of the frame.
func (f *Frame) Size() int {
	return len(f.Payload) + FrameOverhead
}

// Decode decodes the frame payload. Method frames yield a Method, header
// frames a *ContentHeader, body frames the raw []byte and heartbeats nil.
func (f *Frame) Decode() (any, error) {
	switch f.Type {
	case FrameMethod:
		return DecodeMethod(f.Payload)
	case FrameHeader:
		return ReadContentHeader(bytes.NewReader(f.Payload))
	case FrameBody:
		return f.Payload, nil
	case FrameHeartbeat:
		return nil, nil
	default:
		return nil, NewErr(FrameError, "unknown frame type", nil)
	}
}

// NewMethodFrame encodes m into a method frame on the given channel.
func NewMethodFrame(channel uint16, m Method) (*Frame, error) {
	var b bytes.Buffer
	if err := m.Write(&b); err != nil {
		return nil, err
	}
	return &Frame{Type: FrameMethod, Channel: channel, Payload: b.Bytes()}, nil
}

// NewHeaderFrame encodes h into a content header frame.
func NewHeaderFrame(channel uint16, h *ContentHeader) (*Frame, error) {
	var b bytes.Buffer
	if err := h.WriteContentHeader(&b); err != nil {
		return nil, err
	}
	return &Frame{Type: FrameHeader, Channel: channel, Payload: b.Bytes()}, nil
}

// NewBodyFrame wraps a body fragment.
func NewBodyFrame(channel uint16, body []byte) *Frame {
	return &Frame{Type: FrameBody, Channel: channel, Payload: body}
}
