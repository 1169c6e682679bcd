// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr error
	}{
		{name: "defaults", opts: NewOptions()},
		{name: "no host", opts: NewOptions().SetHost(""), wantErr: ErrNoHost},
		{name: "negative port", opts: NewOptions().SetPort(-1), wantErr: ErrInvalidPort},
		{name: "port too large", opts: NewOptions().SetPort(70000), wantErr: ErrInvalidPort},
		{name: "frame max too small", opts: NewOptions().SetFrameMax(512), wantErr: ErrInvalidFrameMax},
		{name: "frame max disabled", opts: NewOptions().SetFrameMax(0)},
		{name: "negative socket timeout", opts: NewOptions().SetSocketTimeout(-time.Second), wantErr: ErrInvalidTimeout},
		{name: "negative heartbeat", opts: NewOptions().SetHeartbeat(-time.Second), wantErr: ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name           string
		opts           *Options
		wantPort       int
		wantDisconnect time.Duration
	}{
		{
			name:           "disconnect falls back to connect timeout",
			opts:           NewOptions().SetConnectTimeout(3 * time.Second),
			wantPort:       DefaultPort,
			wantDisconnect: 3 * time.Second,
		},
		{
			name:           "disconnect follows socket timeout",
			opts:           NewOptions().SetSocketTimeout(2 * time.Second),
			wantPort:       DefaultPort,
			wantDisconnect: 2 * time.Second,
		},
		{
			name:           "explicit disconnect timeout",
			opts:           NewOptions().SetSocketTimeout(2 * time.Second).SetDisconnectTimeout(time.Second),
			wantPort:       DefaultPort,
			wantDisconnect: time.Second,
		},
		{
			name:           "tls default port",
			opts:           NewOptions().SetTLS(true, true),
			wantPort:       DefaultTLSPort,
			wantDisconnect: DefaultConnectTimeout,
		},
		{
			name:           "explicit port kept with tls",
			opts:           NewOptions().SetTLS(true, false).SetPort(5672),
			wantPort:       5672,
			wantDisconnect: DefaultConnectTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts.normalize()
			assert.Equal(t, tt.wantPort, o.Port)
			assert.Equal(t, tt.wantDisconnect, o.DisconnectTimeout)
			assert.NotNil(t, o.Logger)
			assert.IsType(t, FrameProtocol{}, o.Protocol)
		})
	}
}

func TestOptionsZeroValue(t *testing.T) {
	o := (&Options{Host: "broker"}).normalize()
	assert.Equal(t, DefaultPort, o.Port)
	assert.Equal(t, DefaultVhost, o.Vhost)
	assert.Equal(t, DefaultConnectTimeout, o.ConnectTimeout)
	assert.Equal(t, DefaultConnectTimeout, o.DisconnectTimeout)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_connected", StateNotConnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(7).String())
}
