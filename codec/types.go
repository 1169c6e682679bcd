// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Frame types.
const (
	FrameMethod    byte = 1
	FrameHeader    byte = 2
	FrameBody      byte = 3
	FrameHeartbeat byte = 8
)

// FrameEnd is the octet that terminates every frame.
const FrameEnd byte = 0xCE

// FrameHeaderSize is the size of the type/channel/size prefix of a frame.
const FrameHeaderSize = 7

// FrameOverhead is the number of bytes a frame adds around its payload.
const FrameOverhead = FrameHeaderSize + 1

// ProtocolHeader opens every AMQP 0-9-1 connection.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// Decimal is an AMQP decimal value.
type Decimal struct {
	Scale uint8
	Value int32
}

// Table is an AMQP field table.
type Table map[string]any

// ReadOctet reads a single byte.
func ReadOctet(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteOctet writes a single byte.
func WriteOctet(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// ReadShort reads a big-endian uint16.
func ReadShort(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// WriteShort writes a big-endian uint16.
func WriteShort(w io.Writer, v uint16) error {
	return binary.Write(w, binary.BigEndian, v)
}

// ReadLong reads a big-endian uint32.
func ReadLong(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteLong writes a big-endian uint32.
func WriteLong(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

// ReadLongLong reads a big-endian uint64.
func ReadLongLong(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteLongLong writes a big-endian uint64.
func WriteLongLong(w io.Writer, v uint64) error {
	return binary.Write(w, binary.BigEndian, v)
}

// ReadShortStr reads a string prefixed by a one-byte length.
func ReadShortStr(r io.Reader) (string, error) {
	n, err := ReadOctet(r)
	if err != nil {
		return "", err
	}
	return readString(r, int(n))
}

// WriteShortStr writes a string prefixed by a one-byte length.
func WriteShortStr(w io.Writer, s string) error {
	if len(s) > math.MaxUint8 {
		return NewErr(SyntaxError, "short string too long", nil)
	}
	if err := WriteOctet(w, byte(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadLongStr reads a string prefixed by a four-byte length.
func ReadLongStr(r io.Reader) (string, error) {
	n, err := ReadLong(r)
	if err != nil {
		return "", err
	}
	return readString(r, int(n))
}

// WriteLongStr writes a string prefixed by a four-byte length.
func WriteLongStr(w io.Writer, s string) error {
	if err := WriteLong(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readBlock reads a length-prefixed block and returns a reader over it.
func readBlock(r io.Reader) (*bytes.Reader, error) {
	n, err := ReadLong(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

// ReadTable reads a field table.
func ReadTable(r io.Reader) (Table, error) {
	b, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	t := make(Table)
	for b.Len() > 0 {
		key, err := ReadShortStr(b)
		if err != nil {
			return nil, err
		}
		if t[key], err = ReadFieldValue(b); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteTable writes a field table.
func WriteTable(w io.Writer, t Table) error {
	var b bytes.Buffer
	for key, value := range t {
		if err := WriteShortStr(&b, key); err != nil {
			return err
		}
		if err := WriteFieldValue(&b, value); err != nil {
			return err
		}
	}
	if err := WriteLong(w, uint32(b.Len())); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// ReadArray reads a field array.
func ReadArray(r io.Reader) ([]any, error) {
	b, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	var arr []any
	for b.Len() > 0 {
		v, err := ReadFieldValue(b)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// WriteArray writes a field array.
func WriteArray(w io.Writer, arr []any) error {
	var b bytes.Buffer
	for _, v := range arr {
		if err := WriteFieldValue(&b, v); err != nil {
			return err
		}
	}
	if err := WriteLong(w, uint32(b.Len())); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// ReadFieldValue reads one tagged field value.
func ReadFieldValue(r io.Reader) (any, error) {
	tag, err := ReadOctet(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 't':
		v, err := ReadOctet(r)
		return v != 0, err
	case 'b':
		v, err := ReadOctet(r)
		return int8(v), err
	case 'B':
		return ReadOctet(r)
	case 's':
		v, err := ReadShort(r)
		return int16(v), err
	case 'u':
		return ReadShort(r)
	case 'I':
		v, err := ReadLong(r)
		return int32(v), err
	case 'i':
		return ReadLong(r)
	case 'l':
		v, err := ReadLongLong(r)
		return int64(v), err
	case 'f':
		v, err := ReadLong(r)
		return math.Float32frombits(v), err
	case 'd':
		v, err := ReadLongLong(r)
		return math.Float64frombits(v), err
	case 'D':
		scale, err := ReadOctet(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadLong(r)
		return Decimal{Scale: scale, Value: int32(v)}, err
	case 'S':
		return ReadLongStr(r)
	case 'T':
		v, err := ReadLongLong(r)
		return time.Unix(int64(v), 0).UTC(), err
	case 'F':
		return ReadTable(r)
	case 'A':
		return ReadArray(r)
	case 'x':
		b, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, b.Len())
		_, _ = b.Read(buf)
		return buf, nil
	case 'V':
		return nil, nil
	default:
		return nil, NewErr(SyntaxError, "unsupported field type", nil)
	}
}

// WriteFieldValue writes one tagged field value.
func WriteFieldValue(w io.Writer, value any) error {
	tagged := func(tag byte, write func() error) error {
		if err := WriteOctet(w, tag); err != nil {
			return err
		}
		return write()
	}
	switch v := value.(type) {
	case bool:
		var b byte
		if v {
			b = 1
		}
		return tagged('t', func() error { return WriteOctet(w, b) })
	case int8:
		return tagged('b', func() error { return WriteOctet(w, byte(v)) })
	case byte:
		return tagged('B', func() error { return WriteOctet(w, v) })
	case int16:
		return tagged('s', func() error { return WriteShort(w, uint16(v)) })
	case uint16:
		return tagged('u', func() error { return WriteShort(w, v) })
	case int32:
		return tagged('I', func() error { return WriteLong(w, uint32(v)) })
	case int:
		return tagged('I', func() error { return WriteLong(w, uint32(v)) })
	case uint32:
		return tagged('i', func() error { return WriteLong(w, v) })
	case int64:
		return tagged('l', func() error { return WriteLongLong(w, uint64(v)) })
	case float32:
		return tagged('f', func() error { return WriteLong(w, math.Float32bits(v)) })
	case float64:
		return tagged('d', func() error { return WriteLongLong(w, math.Float64bits(v)) })
	case Decimal:
		return tagged('D', func() error {
			if err := WriteOctet(w, v.Scale); err != nil {
				return err
			}
			return WriteLong(w, uint32(v.Value))
		})
	case string:
		return tagged('S', func() error { return WriteLongStr(w, v) })
	case time.Time:
		return tagged('T', func() error { return WriteLongLong(w, uint64(v.Unix())) })
	case Table:
		return tagged('F', func() error { return WriteTable(w, v) })
	case map[string]any:
		return tagged('F', func() error { return WriteTable(w, v) })
	case []any:
		return tagged('A', func() error { return WriteArray(w, v) })
	case []byte:
		return tagged('x', func() error {
			if err := WriteLong(w, uint32(len(v))); err != nil {
				return err
			}
			_, err := w.Write(v)
			return err
		})
	case nil:
		return WriteOctet(w, 'V')
	default:
		return NewErr(SyntaxError, "unsupported field value type", nil)
	}
}
