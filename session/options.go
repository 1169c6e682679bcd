// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/amqpconn/ratelimit"
	"github.com/absmach/amqpconn/transport"
)

// Default values.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 5672
	DefaultTLSPort        = 5671
	DefaultUsername       = "guest"
	DefaultPassword       = "guest"
	DefaultVhost          = "/"
	DefaultFrameMax       = 131072
	DefaultConnectTimeout = 5 * time.Second
	DefaultReturnTimeout  = 100 * time.Millisecond

	minFrameMax = 4096
)

// Options configures a Session. Start from NewOptions: the zero value has
// VerifyTLS off.
type Options struct {
	// Connection
	Host      string
	Port      int // 0 selects 5672, or 5671 with TLS
	Username  string
	Password  string
	Vhost     string
	TLS       bool
	VerifyTLS bool
	TLSConfig *tls.Config // Base TLS configuration (CA pool, client certs)

	// Tuning
	FrameMax   uint32        // 0 disables the outbound size check
	ChannelMax uint16        // 0 means unlimited
	Heartbeat  time.Duration // Stored only; no heartbeats are sent or monitored

	// Timeouts
	ConnectTimeout    time.Duration
	SocketTimeout     time.Duration // Per read/write; 0 disables
	DisconnectTimeout time.Duration // 0 derives from SocketTimeout, else ConnectTimeout

	// Transport
	Transport transport.Kind // 0 selects cooperative when Reactor is set, else socket
	Reactor   *transport.Reactor
	Dial      transport.DialFunc

	// Ambient
	Logger         *slog.Logger
	Metrics        *Metrics
	Protocol       Protocol // Defaults to FrameProtocol
	Breaker        *BreakerSettings
	ConnectLimiter *ratelimit.ConnectLimiter
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Host:           DefaultHost,
		Username:       DefaultUsername,
		Password:       DefaultPassword,
		Vhost:          DefaultVhost,
		VerifyTLS:      true,
		FrameMax:       DefaultFrameMax,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// SetHost sets the broker host.
func (o *Options) SetHost(host string) *Options {
	o.Host = host
	return o
}

// SetPort sets the broker port.
func (o *Options) SetPort(port int) *Options {
	o.Port = port
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetVhost sets the virtual host.
func (o *Options) SetVhost(vhost string) *Options {
	o.Vhost = vhost
	return o
}

// SetTLS enables TLS and chooses whether the peer certificate is verified.
func (o *Options) SetTLS(enabled, verify bool) *Options {
	o.TLS = enabled
	o.VerifyTLS = verify
	return o
}

// SetTLSConfig sets the base TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetFrameMax sets the maximum frame size.
func (o *Options) SetFrameMax(n uint32) *Options {
	o.FrameMax = n
	return o
}

// SetChannelMax sets the maximum number of channels.
func (o *Options) SetChannelMax(n uint16) *Options {
	o.ChannelMax = n
	return o
}

// SetHeartbeat sets the heartbeat interval.
func (o *Options) SetHeartbeat(d time.Duration) *Options {
	o.Heartbeat = d
	return o
}

// SetConnectTimeout sets the connect timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetSocketTimeout sets the per-operation read/write timeout.
func (o *Options) SetSocketTimeout(d time.Duration) *Options {
	o.SocketTimeout = d
	return o
}

// SetDisconnectTimeout sets the timeout applied to each shutdown step.
func (o *Options) SetDisconnectTimeout(d time.Duration) *Options {
	o.DisconnectTimeout = d
	return o
}

// SetTransport selects the transport kind explicitly.
func (o *Options) SetTransport(k transport.Kind) *Options {
	o.Transport = k
	return o
}

// SetReactor sets the reactor used by cooperative transports.
func (o *Options) SetReactor(r *transport.Reactor) *Options {
	o.Reactor = r
	return o
}

// SetDial overrides how network connections are opened.
func (o *Options) SetDial(d transport.DialFunc) *Options {
	o.Dial = d
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetMetrics sets the metric instruments.
func (o *Options) SetMetrics(m *Metrics) *Options {
	o.Metrics = m
	return o
}

// SetProtocol sets the shutdown protocol hooks.
func (o *Options) SetProtocol(p Protocol) *Options {
	o.Protocol = p
	return o
}

// SetBreaker enables a circuit breaker around connection attempts.
func (o *Options) SetBreaker(b *BreakerSettings) *Options {
	o.Breaker = b
	return o
}

// SetConnectLimiter paces connection attempts.
func (o *Options) SetConnectLimiter(l *ratelimit.ConnectLimiter) *Options {
	o.ConnectLimiter = l
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrNoHost
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, o.Port)
	}
	if o.FrameMax != 0 && o.FrameMax < minFrameMax {
		return fmt.Errorf("%w: %d", ErrInvalidFrameMax, o.FrameMax)
	}
	if o.ConnectTimeout < 0 || o.SocketTimeout < 0 || o.DisconnectTimeout < 0 || o.Heartbeat < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// normalize returns a copy with zero values replaced by defaults.
func (o Options) normalize() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
		if o.TLS {
			o.Port = DefaultTLSPort
		}
	}
	if o.Vhost == "" {
		o.Vhost = DefaultVhost
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.DisconnectTimeout == 0 {
		o.DisconnectTimeout = o.SocketTimeout
		if o.DisconnectTimeout == 0 {
			o.DisconnectTimeout = o.ConnectTimeout
		}
	}
	if o.Transport == 0 {
		o.Transport = transport.KindSocket
		if o.Reactor != nil {
			o.Transport = transport.KindCooperative
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Protocol == nil {
		o.Protocol = FrameProtocol{}
	}
	return o
}

func (o *Options) transportOptions() transport.Options {
	return transport.Options{
		Host:      o.Host,
		Port:      o.Port,
		TLS:       o.TLS,
		VerifyTLS: o.VerifyTLS,
		TLSConfig: o.TLSConfig,
		Dial:      o.Dial,
		Reactor:   o.Reactor,
		Logger:    o.Logger,
	}
}
