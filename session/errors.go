// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Session errors.
var (
	ErrConnectTimeout  = errors.New("connect timed out")
	ErrClientTimeout   = errors.New("client timed out")
	ErrServerDown      = errors.New("server down")
	ErrNotConnected    = errors.New("session not connected")
	ErrInvalidChannel  = errors.New("invalid channel index")
	ErrChannelMax      = errors.New("channel limit reached")
	ErrFrameTooLarge   = errors.New("frame exceeds frame_max")
	ErrUnexpectedFrame = errors.New("unexpected frame")
	ErrInvalidURL      = errors.New("invalid connection url")
	ErrInvalidLength   = errors.New("read length cannot be negative")
)

// Option validation errors.
var (
	ErrNoHost          = errors.New("no broker host configured")
	ErrInvalidPort     = errors.New("port must be between 0 and 65535")
	ErrInvalidFrameMax = errors.New("frame_max must be 0 or at least 4096")
	ErrInvalidTimeout  = errors.New("timeouts cannot be negative")
)
