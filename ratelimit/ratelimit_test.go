// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectLimiterAllow(t *testing.T) {
	// 5 attempts per second, burst of 2
	l := NewConnectLimiter(5, 2, time.Minute)

	assert.True(t, l.Allow("broker:5672"))
	assert.True(t, l.Allow("broker:5672"))
	assert.False(t, l.Allow("broker:5672"), "burst exhausted")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, l.Allow("broker:5672"), "token refilled")
}

func TestConnectLimiterPerAddress(t *testing.T) {
	l := NewConnectLimiter(1, 1, time.Minute)

	assert.True(t, l.Allow("a:5672"))
	assert.True(t, l.Allow("b:5672"))
	assert.False(t, l.Allow("a:5672"))
	assert.False(t, l.Allow("b:5672"))
	assert.Equal(t, 2, l.Len())
}

func TestConnectLimiterWait(t *testing.T) {
	l := NewConnectLimiter(20, 1, time.Minute)

	require.NoError(t, l.Wait(context.Background(), "a:5672"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "a:5672"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestConnectLimiterWaitContext(t *testing.T) {
	l := NewConnectLimiter(0.1, 1, time.Minute)
	require.True(t, l.Allow("a:5672"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a:5672"))
}

func TestConnectLimiterPrunesIdle(t *testing.T) {
	l := NewConnectLimiter(1, 1, 20*time.Millisecond)

	l.Allow("a:5672")
	time.Sleep(40 * time.Millisecond)
	l.Allow("b:5672")
	assert.Equal(t, 1, l.Len())
}

func TestNew(t *testing.T) {
	assert.Nil(t, New(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.NotNil(t, New(cfg))
}
