// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ParseURL builds Options from an amqp:// or amqps:// connection string:
//
//	amqp[s]://user:pass@host:port/vhost?heartbeat=10&frame_max=131072&channel_max=64&connection_timeout=5
//
// Durations given as bare numbers are seconds. Unset parts keep the
// NewOptions defaults.
func ParseURL(raw string) (*Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	o := NewOptions()
	switch u.Scheme {
	case "amqp":
		o.Port = DefaultPort
	case "amqps":
		o.TLS = true
		o.Port = DefaultTLSPort
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		o.Host = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
		o.Port = port
	}

	if u.User != nil {
		o.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			o.Password = pass
		}
	}

	// "/" and "" both mean the default vhost; "/%2f" is an explicit "/".
	if len(u.Path) > 1 {
		o.Vhost = u.Path[1:]
	}

	q := u.Query()
	if v := q.Get("heartbeat"); v != "" {
		if o.Heartbeat, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("%w: heartbeat: %w", ErrInvalidURL, err)
		}
	}
	if v := q.Get("connection_timeout"); v != "" {
		if o.ConnectTimeout, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("%w: connection_timeout: %w", ErrInvalidURL, err)
		}
	}
	if v := q.Get("frame_max"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: frame_max: %w", ErrInvalidURL, err)
		}
		o.FrameMax = uint32(n)
	}
	if v := q.Get("channel_max"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: channel_max: %w", ErrInvalidURL, err)
		}
		o.ChannelMax = uint16(n)
	}

	return o, nil
}

// parseSeconds accepts either a Go duration ("1.5s") or a number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}
