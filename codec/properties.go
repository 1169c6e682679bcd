// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
)

// Property flag bits for BasicProperties.
const (
	FlagContentType     uint16 = 1 << 15
	FlagContentEncoding uint16 = 1 << 14
	FlagHeaders         uint16 = 1 << 13
	FlagDeliveryMode    uint16 = 1 << 12
	FlagPriority        uint16 = 1 << 11
	FlagCorrelationID   uint16 = 1 << 10
	FlagReplyTo         uint16 = 1 << 9
	FlagExpiration      uint16 = 1 << 8
	FlagMessageID       uint16 = 1 << 7
	FlagTimestamp       uint16 = 1 << 6
	FlagType            uint16 = 1 << 5
	FlagUserID          uint16 = 1 << 4
	FlagAppID           uint16 = 1 << 3
	FlagClusterID       uint16 = 1 << 2
)

// BasicProperties are the content header properties of the basic class.
type BasicProperties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       uint64
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

// shortStrings lists the short-string properties in wire order.
func (p *BasicProperties) shortStrings() []struct {
	flag uint16
	val  *string
} {
	return []struct {
		flag uint16
		val  *string
	}{
		{FlagCorrelationID, &p.CorrelationID},
		{FlagReplyTo, &p.ReplyTo},
		{FlagExpiration, &p.Expiration},
		{FlagMessageID, &p.MessageID},
	}
}

func (p *BasicProperties) trailingStrings() []struct {
	flag uint16
	val  *string
} {
	return []struct {
		flag uint16
		val  *string
	}{
		{FlagType, &p.Type},
		{FlagUserID, &p.UserID},
		{FlagAppID, &p.AppID},
		{FlagClusterID, &p.ClusterID},
	}
}

// Flags returns the property flags for the fields that are set.
func (p *BasicProperties) Flags() uint16 {
	var flags uint16
	set := func(flag uint16, ok bool) {
		if ok {
			flags |= flag
		}
	}
	set(FlagContentType, p.ContentType != "")
	set(FlagContentEncoding, p.ContentEncoding != "")
	set(FlagHeaders, p.Headers != nil)
	set(FlagDeliveryMode, p.DeliveryMode != 0)
	set(FlagPriority, p.Priority != 0)
	for _, s := range p.shortStrings() {
		set(s.flag, *s.val != "")
	}
	set(FlagTimestamp, p.Timestamp != 0)
	for _, s := range p.trailingStrings() {
		set(s.flag, *s.val != "")
	}
	return flags
}

// Read reads the properties selected by flags.
func (p *BasicProperties) Read(r io.Reader, flags uint16) (err error) {
	if flags&FlagContentType != 0 {
		if p.ContentType, err = ReadShortStr(r); err != nil {
			return err
		}
	}
	if flags&FlagContentEncoding != 0 {
		if p.ContentEncoding, err = ReadShortStr(r); err != nil {
			return err
		}
	}
	if flags&FlagHeaders != 0 {
		if p.Headers, err = ReadTable(r); err != nil {
			return err
		}
	}
	if flags&FlagDeliveryMode != 0 {
		if p.DeliveryMode, err = ReadOctet(r); err != nil {
			return err
		}
	}
	if flags&FlagPriority != 0 {
		if p.Priority, err = ReadOctet(r); err != nil {
			return err
		}
	}
	for _, s := range p.shortStrings() {
		if flags&s.flag != 0 {
			if *s.val, err = ReadShortStr(r); err != nil {
				return err
			}
		}
	}
	if flags&FlagTimestamp != 0 {
		if p.Timestamp, err = ReadLongLong(r); err != nil {
			return err
		}
	}
	for _, s := range p.trailingStrings() {
		if flags&s.flag != 0 {
			if *s.val, err = ReadShortStr(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write writes the properties that are set, in wire order.
func (p *BasicProperties) Write(w io.Writer) error {
	flags := p.Flags()
	if flags&FlagContentType != 0 {
		if err := WriteShortStr(w, p.ContentType); err != nil {
			return err
		}
	}
	if flags&FlagContentEncoding != 0 {
		if err := WriteShortStr(w, p.ContentEncoding); err != nil {
			return err
		}
	}
	if flags&FlagHeaders != 0 {
		if err := WriteTable(w, p.Headers); err != nil {
			return err
		}
	}
	if flags&FlagDeliveryMode != 0 {
		if err := WriteOctet(w, p.DeliveryMode); err != nil {
			return err
		}
	}
	if flags&FlagPriority != 0 {
		if err := WriteOctet(w, p.Priority); err != nil {
			return err
		}
	}
	for _, s := range p.shortStrings() {
		if flags&s.flag != 0 {
			if err := WriteShortStr(w, *s.val); err != nil {
				return err
			}
		}
	}
	if flags&FlagTimestamp != 0 {
		if err := WriteLongLong(w, p.Timestamp); err != nil {
			return err
		}
	}
	for _, s := range p.trailingStrings() {
		if flags&s.flag != 0 {
			if err := WriteShortStr(w, *s.val); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContentHeader precedes the body frames of a message and declares its size.
type ContentHeader struct {
	ClassID    uint16
	Weight     uint16
	BodySize   uint64
	Flags      uint16
	Properties BasicProperties
}

// ReadContentHeader reads a content header payload.
func ReadContentHeader(r io.Reader) (*ContentHeader, error) {
	h := &ContentHeader{}
	var err error
	if h.ClassID, err = ReadShort(r); err != nil {
		return nil, err
	}
	if h.Weight, err = ReadShort(r); err != nil {
		return nil, err
	}
	if h.BodySize, err = ReadLongLong(r); err != nil {
		return nil, err
	}
	if h.Flags, err = ReadShort(r); err != nil {
		return nil, err
	}
	if err := h.Properties.Read(r, h.Flags); err != nil {
		return nil, err
	}
	return h, nil
}

// WriteContentHeader writes the content header payload.
func (h *ContentHeader) WriteContentHeader(w io.Writer) error {
	if err := WriteShort(w, h.ClassID); err != nil {
		return err
	}
	if err := WriteShort(w, h.Weight); err != nil {
		return err
	}
	if err := WriteLongLong(w, h.BodySize); err != nil {
		return err
	}
	h.Flags = h.Properties.Flags()
	if err := WriteShort(w, h.Flags); err != nil {
		return err
	}
	return h.Properties.Write(w)
}
