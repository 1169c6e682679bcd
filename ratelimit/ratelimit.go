// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles outbound connection attempts.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectLimiter paces connection attempts per broker address so that a
// flapping broker is not hammered by reconnect loops.
type ConnectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*addrEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type addrEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectLimiter creates a limiter allowing r attempts per second with the
// given burst. Entries unused for idle are dropped on the next Wait.
func NewConnectLimiter(r float64, burst int, idle time.Duration) *ConnectLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ConnectLimiter{
		limiters: make(map[string]*addrEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		idle:     idle,
	}
}

// Allow reports whether an attempt to addr may proceed now.
func (l *ConnectLimiter) Allow(addr string) bool {
	return l.limiter(addr).Allow()
}

// Wait blocks until an attempt to addr is permitted or ctx ends.
func (l *ConnectLimiter) Wait(ctx context.Context, addr string) error {
	return l.limiter(addr).Wait(ctx)
}

// Len returns the number of tracked addresses.
func (l *ConnectLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *ConnectLimiter) limiter(addr string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)
	entry, ok := l.limiters[addr]
	if !ok {
		entry = &addrEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[addr] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (l *ConnectLimiter) pruneLocked(now time.Time) {
	if l.idle <= 0 {
		return
	}
	threshold := now.Add(-l.idle)
	for addr, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, addr)
		}
	}
}

// Config holds connect rate limiting settings.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Rate    float64       `yaml:"rate"`  // attempts per second per address
	Burst   int           `yaml:"burst"` // burst allowance
	Idle    time.Duration `yaml:"idle"`  // drop addresses unused for this long
}

// DefaultConfig returns a disabled limiter configuration with sane rates.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Rate:    1,
		Burst:   3,
		Idle:    10 * time.Minute,
	}
}

// New builds a limiter from cfg. It returns nil when limiting is disabled.
func New(cfg Config) *ConnectLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewConnectLimiter(cfg.Rate, cfg.Burst, cfg.Idle)
}
