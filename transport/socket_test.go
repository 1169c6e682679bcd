// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketReadExact(t *testing.T) {
	opts, conns := listen(t)

	s, err := DialSocket(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close()

	srv := accept(t, conns)
	go func() {
		srv.Write([]byte("abc"))
		time.Sleep(10 * time.Millisecond)
		srv.Write([]byte("defgh"))
	}()

	got, err := s.Read(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)

	got, err = s.Read(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("fgh"), got)
}

func TestSocketReadTimeoutKeepsPartialBytes(t *testing.T) {
	opts, conns := listen(t)

	s, err := DialSocket(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close()

	srv := accept(t, conns)
	_, err = srv.Write([]byte("ab"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Read(ctx, 4)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected timeout, got %v", err)

	_, err = srv.Write([]byte("cd"))
	require.NoError(t, err)

	got, err := s.Read(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)
}

func TestSocketLargeReadAllocatesOnArrival(t *testing.T) {
	opts, conns := listen(t)

	s, err := DialSocket(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close()

	srv := accept(t, conns)
	_, err = srv.Write([]byte("xyz"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Read(ctx, 1<<30)
	assert.True(t, IsTimeout(err), "expected timeout, got %v", err)

	assert.Len(t, s.scratch, readChunk)
	assert.Equal(t, []byte("xyz"), s.pending)
	assert.Less(t, cap(s.pending), 1<<20)
}

func TestSocketWrite(t *testing.T) {
	opts, conns := listen(t)

	s, err := DialSocket(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close()

	srv := accept(t, conns)
	require.NoError(t, s.Write(context.Background(), []byte("AMQP")))

	buf := make([]byte, 4)
	_, err = io.ReadFull(srv, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("AMQP"), buf)
}

func TestSocketClose(t *testing.T) {
	opts, _ := listen(t)

	s, err := DialSocket(context.Background(), opts)
	require.NoError(t, err)

	assert.False(t, s.Closed())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	_, err = s.Read(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Write(context.Background(), []byte("x")), ErrClosed)
}

func TestSocketConnectTimeout(t *testing.T) {
	opts := Options{Host: "127.0.0.1", Port: 5672, Dial: blockingDial}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := DialSocket(ctx, opts)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSocketTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	tests := []struct {
		name    string
		verify  bool
		cfg     *tls.Config
		wantErr bool
	}{
		{name: "verification disabled", verify: false},
		{name: "unknown authority", verify: true, wantErr: true},
		{name: "trusted authority", verify: true, cfg: &tls.Config{RootCAs: pool}},
		{name: "host mismatch", verify: true, cfg: &tls.Config{RootCAs: pool, ServerName: "broker.invalid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Host: host, Port: p, TLS: true, VerifyTLS: tt.verify, TLSConfig: tt.cfg}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			s, err := DialSocket(ctx, opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}
