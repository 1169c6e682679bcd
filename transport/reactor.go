// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"net"
	"sync"
)

const reactorQueueSize = 1024

type eventKind uint8

const (
	eventConnected eventKind = iota + 1
	eventData
	eventUnbind
	eventClose
)

type event struct {
	kind eventKind
	conn *Cooperative
	net  net.Conn
	data []byte
	err  error
}

// Reactor is a single event loop shared by many cooperative connections.
// Every buffer append, resume and teardown happens on the loop goroutine;
// network reads and writes run on per-connection goroutines that only post
// events back to the loop.
type Reactor struct {
	events chan event
	quit   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	// Owned by the loop goroutine.
	conns map[*Cooperative]struct{}

	closeOnce sync.Once
}

// NewReactor starts a reactor loop. Close stops it.
func NewReactor(logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reactor{
		events: make(chan event, reactorQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
		conns:  make(map[*Cooperative]struct{}),
	}
	go r.run()
	return r
}

// Close tears down every connection the reactor owns and stops the loop.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
	})
	return nil
}

// Running reports whether the loop is still dispatching events.
func (r *Reactor) Running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Reactor) post(ev event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reactor) run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			r.dispatch(ev)
		case <-r.quit:
			for c := range r.conns {
				c.unbind(ErrClosed)
			}
			clear(r.conns)
			r.logger.Debug("reactor stopped")
			return
		}
	}
}

func (r *Reactor) dispatch(ev event) {
	c := ev.conn
	switch ev.kind {
	case eventConnected:
		if !c.connectionCompleted(ev.net) {
			return
		}
		r.conns[c] = struct{}{}
		go c.readLoop(ev.net)
		go c.writeLoop(ev.net)
	case eventData:
		c.receiveData(ev.data)
	case eventUnbind:
		delete(r.conns, c)
		c.unbind(ev.err)
	case eventClose:
		delete(r.conns, c)
		c.unbind(ErrClosed)
	}
}
