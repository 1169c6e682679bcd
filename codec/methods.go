// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
)

// Class IDs.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassBasic      uint16 = 60
)

// Method IDs.
const (
	MethodConnectionStart   uint16 = 10
	MethodConnectionClose   uint16 = 50
	MethodConnectionCloseOk uint16 = 51

	MethodChannelClose   uint16 = 40
	MethodChannelCloseOk uint16 = 41

	MethodBasicReturn uint16 = 50
)

// Method is a decoded method frame payload.
type Method interface {
	ClassID() uint16
	MethodID() uint16
	Read(r *bytes.Reader) error
	Write(w io.Writer) error
}

// DecodeMethod decodes a method frame payload. Methods this package has no
// struct for are returned as *RawMethod so the stream can still be consumed.
func DecodeMethod(payload []byte) (Method, error) {
	r := bytes.NewReader(payload)
	classID, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	methodID, err := ReadShort(r)
	if err != nil {
		return nil, err
	}

	var m Method
	switch {
	case classID == ClassConnection && methodID == MethodConnectionStart:
		m = &ConnectionStart{}
	case classID == ClassConnection && methodID == MethodConnectionClose:
		m = &ConnectionClose{}
	case classID == ClassConnection && methodID == MethodConnectionCloseOk:
		m = &ConnectionCloseOk{}
	case classID == ClassChannel && methodID == MethodChannelClose:
		m = &ChannelClose{}
	case classID == ClassChannel && methodID == MethodChannelCloseOk:
		m = &ChannelCloseOk{}
	case classID == ClassBasic && methodID == MethodBasicReturn:
		m = &BasicReturn{}
	default:
		m = &RawMethod{Class: classID, Method: methodID}
	}
	if err := m.Read(r); err != nil {
		return nil, err
	}
	return m, nil
}

func writeMethodID(w io.Writer, m Method) error {
	if err := WriteShort(w, m.ClassID()); err != nil {
		return err
	}
	return WriteShort(w, m.MethodID())
}

// RawMethod holds the undecoded arguments of a method.
type RawMethod struct {
	Class     uint16
	Method    uint16
	Arguments []byte
}

func (m *RawMethod) ClassID() uint16  { return m.Class }
func (m *RawMethod) MethodID() uint16 { return m.Method }

func (m *RawMethod) Read(r *bytes.Reader) error {
	m.Arguments = make([]byte, r.Len())
	_, err := io.ReadFull(r, m.Arguments)
	return err
}

func (m *RawMethod) Write(w io.Writer) error {
	if err := writeMethodID(w, m); err != nil {
		return err
	}
	_, err := w.Write(m.Arguments)
	return err
}

// ConnectionStart is the first method the broker sends.
type ConnectionStart struct {
	VersionMajor     byte
	VersionMinor     byte
	ServerProperties Table
	Mechanisms       string
	Locales          string
}

func (m *ConnectionStart) ClassID() uint16  { return ClassConnection }
func (m *ConnectionStart) MethodID() uint16 { return MethodConnectionStart }

func (m *ConnectionStart) Read(r *bytes.Reader) (err error) {
	if m.VersionMajor, err = ReadOctet(r); err != nil {
		return err
	}
	if m.VersionMinor, err = ReadOctet(r); err != nil {
		return err
	}
	if m.ServerProperties, err = ReadTable(r); err != nil {
		return err
	}
	if m.Mechanisms, err = ReadLongStr(r); err != nil {
		return err
	}
	m.Locales, err = ReadLongStr(r)
	return err
}

func (m *ConnectionStart) Write(w io.Writer) error {
	if err := writeMethodID(w, m); err != nil {
		return err
	}
	if err := WriteOctet(w, m.VersionMajor); err != nil {
		return err
	}
	if err := WriteOctet(w, m.VersionMinor); err != nil {
		return err
	}
	if err := WriteTable(w, m.ServerProperties); err != nil {
		return err
	}
	if err := WriteLongStr(w, m.Mechanisms); err != nil {
		return err
	}
	return WriteLongStr(w, m.Locales)
}

// closeArgs are shared by connection.close and channel.close.
type closeArgs struct {
	ReplyCode      uint16
	ReplyText      string
	FailedClassID  uint16
	FailedMethodID uint16
}

func (a *closeArgs) read(r *bytes.Reader) (err error) {
	if a.ReplyCode, err = ReadShort(r); err != nil {
		return err
	}
	if a.ReplyText, err = ReadShortStr(r); err != nil {
		return err
	}
	if a.FailedClassID, err = ReadShort(r); err != nil {
		return err
	}
	a.FailedMethodID, err = ReadShort(r)
	return err
}

func (a *closeArgs) write(w io.Writer) error {
	if err := WriteShort(w, a.ReplyCode); err != nil {
		return err
	}
	if err := WriteShortStr(w, a.ReplyText); err != nil {
		return err
	}
	if err := WriteShort(w, a.FailedClassID); err != nil {
		return err
	}
	return WriteShort(w, a.FailedMethodID)
}

// ConnectionClose requests a connection shutdown.
type ConnectionClose struct {
	ReplyCode      uint16
	ReplyText      string
	FailedClassID  uint16
	FailedMethodID uint16
}

func (m *ConnectionClose) ClassID() uint16  { return ClassConnection }
func (m *ConnectionClose) MethodID() uint16 { return MethodConnectionClose }

func (m *ConnectionClose) Read(r *bytes.Reader) error {
	return (*closeArgs)(m).read(r)
}

func (m *ConnectionClose) Write(w io.Writer) error {
	if err := writeMethodID(w, m); err != nil {
		return err
	}
	return (*closeArgs)(m).write(w)
}

// ConnectionCloseOk confirms a connection shutdown.
type ConnectionCloseOk struct{}

func (m *ConnectionCloseOk) ClassID() uint16            { return ClassConnection }
func (m *ConnectionCloseOk) MethodID() uint16           { return MethodConnectionCloseOk }
func (m *ConnectionCloseOk) Read(r *bytes.Reader) error { return nil }
func (m *ConnectionCloseOk) Write(w io.Writer) error    { return writeMethodID(w, m) }

// ChannelClose requests a channel shutdown.
type ChannelClose struct {
	ReplyCode      uint16
	ReplyText      string
	FailedClassID  uint16
	FailedMethodID uint16
}

func (m *ChannelClose) ClassID() uint16  { return ClassChannel }
func (m *ChannelClose) MethodID() uint16 { return MethodChannelClose }

func (m *ChannelClose) Read(r *bytes.Reader) error {
	return (*closeArgs)(m).read(r)
}

func (m *ChannelClose) Write(w io.Writer) error {
	if err := writeMethodID(w, m); err != nil {
		return err
	}
	return (*closeArgs)(m).write(w)
}

// ChannelCloseOk confirms a channel shutdown.
type ChannelCloseOk struct{}

func (m *ChannelCloseOk) ClassID() uint16            { return ClassChannel }
func (m *ChannelCloseOk) MethodID() uint16           { return MethodChannelCloseOk }
func (m *ChannelCloseOk) Read(r *bytes.Reader) error { return nil }
func (m *ChannelCloseOk) Write(w io.Writer) error    { return writeMethodID(w, m) }

// BasicReturn reports an undeliverable published message.
type BasicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func (m *BasicReturn) ClassID() uint16  { return ClassBasic }
func (m *BasicReturn) MethodID() uint16 { return MethodBasicReturn }

func (m *BasicReturn) Read(r *bytes.Reader) (err error) {
	if m.ReplyCode, err = ReadShort(r); err != nil {
		return err
	}
	if m.ReplyText, err = ReadShortStr(r); err != nil {
		return err
	}
	if m.Exchange, err = ReadShortStr(r); err != nil {
		return err
	}
	m.RoutingKey, err = ReadShortStr(r)
	return err
}

func (m *BasicReturn) Write(w io.Writer) error {
	if err := writeMethodID(w, m); err != nil {
		return err
	}
	if err := WriteShort(w, m.ReplyCode); err != nil {
		return err
	}
	if err := WriteShortStr(w, m.ReplyText); err != nil {
		return err
	}
	if err := WriteShortStr(w, m.Exchange); err != nil {
		return err
	}
	return WriteShortStr(w, m.RoutingKey)
}
