// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/absmach/amqpconn/codec"
	"github.com/absmach/amqpconn/transport"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory broker connection. Bytes passed to feed are
// what the broker sent; everything written is kept in out.
type fakeTransport struct {
	mu       sync.Mutex
	in       []byte
	out      bytes.Buffer
	readErrs []error // returned by the next reads, in order
	writeErr error
	reads    int
	writes   int
	closed   bool
	wake     chan struct{}
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{wake: make(chan struct{})}
}

func (f *fakeTransport) signalLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

func (f *fakeTransport) feed(chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.in = append(f.in, c...)
	}
	f.signalLocked()
}

func (f *fakeTransport) failReads(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs = append(f.readErrs, errs...)
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) Read(ctx context.Context, n int) ([]byte, error) {
	f.mu.Lock()
	f.reads++
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	for {
		if f.closed {
			f.mu.Unlock()
			return nil, transport.ErrClosed
		}
		if len(f.in) >= n {
			out := slices.Clone(f.in[:n])
			f.in = f.in[n:]
			f.mu.Unlock()
			return out, nil
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		f.mu.Lock()
	}
}

func (f *fakeTransport) Write(_ context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.closed {
		return transport.ErrClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.out.Write(p)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.signalLocked()
	}
	return nil
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) calls() (reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes
}

// sent decodes every frame written so far.
func (f *fakeTransport) sent(t *testing.T) []*codec.Frame {
	t.Helper()
	f.mu.Lock()
	r := bytes.NewReader(f.out.Bytes())
	f.mu.Unlock()

	var frames []*codec.Frame
	for {
		fr, err := codec.ReadFrame(r)
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, fr)
	}
}

// fakeDialer hands out a new fakeTransport per successful dial.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	block bool
	gate  chan struct{} // when set, successful dials wait for it to close
	dials int
	conns []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, _ transport.Options) (transport.Transport, error) {
	d.mu.Lock()
	d.dials++
	err, block, gate := d.err, d.block, d.gate
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ft := newFakeTransport()
	d.mu.Lock()
	d.conns = append(d.conns, ft)
	d.mu.Unlock()
	return ft, nil
}

func (d *fakeDialer) set(err error, block bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err, d.block = err, block
}

// hold makes subsequent dials wait until the returned func is called.
func (d *fakeDialer) hold() func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	return sync.OnceFunc(func() { close(gate) })
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// nopProtocol performs no shutdown I/O.
type nopProtocol struct{}

func (nopProtocol) CloseChannel(context.Context, *Session, *Channel) error { return nil }
func (nopProtocol) CloseConnection(context.Context, *Session) error        { return nil }

// newTestSession builds a session whose transports come from a fakeDialer.
func newTestSession(t *testing.T, opts *Options) (*Session, *fakeDialer) {
	t.Helper()
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Protocol == nil {
		opts.Protocol = nopProtocol{}
	}
	s, err := New(opts)
	require.NoError(t, err)

	d := &fakeDialer{}
	s.factory = d.dial
	t.Cleanup(func() { s.Close() })
	return s, d
}

func encode(t *testing.T, f *codec.Frame) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, f.WriteFrame(&b))
	return b.Bytes()
}

func methodFrame(t *testing.T, channel uint16, m codec.Method) []byte {
	t.Helper()
	f, err := codec.NewMethodFrame(channel, m)
	require.NoError(t, err)
	return encode(t, f)
}

func headerFrame(t *testing.T, channel uint16, bodySize uint64) []byte {
	t.Helper()
	f, err := codec.NewHeaderFrame(channel, &codec.ContentHeader{
		ClassID:  codec.ClassBasic,
		BodySize: bodySize,
	})
	require.NoError(t, err)
	return encode(t, f)
}

func bodyFrame(t *testing.T, channel uint16, body string) []byte {
	t.Helper()
	return encode(t, codec.NewBodyFrame(channel, []byte(body)))
}

func heartbeatFrame(t *testing.T) []byte {
	t.Helper()
	return encode(t, &codec.Frame{Type: codec.FrameHeartbeat})
}
