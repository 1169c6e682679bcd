// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strconv"
	"sync/atomic"
)

// Channel is a logical stream multiplexed over the connection. Channel 0 is
// the connection control channel and always exists.
type Channel struct {
	index int
	open  atomic.Bool
}

func newChannel(index int) *Channel {
	ch := &Channel{index: index}
	ch.open.Store(true)
	return ch
}

// Index returns the channel's position in the session registry.
func (c *Channel) Index() int { return c.index }

// ID returns the channel number used on the wire.
func (c *Channel) ID() uint16 { return uint16(c.index) }

func (c *Channel) IsOpen() bool { return c.open.Load() }

// SetOpen records the channel state as negotiated by the protocol layer.
func (c *Channel) SetOpen(open bool) { c.open.Store(open) }

func (c *Channel) String() string {
	return "channel " + strconv.Itoa(c.index)
}
