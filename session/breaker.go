// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around connection attempts.
// Once FailureThreshold consecutive attempts fail, further attempts are
// refused with gobreaker.ErrOpenState until ResetTimeout has passed.
type BreakerSettings struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

func newBreaker(name string, cfg BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker {
	threshold := max(cfg.FailureThreshold, 1)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("connect circuit breaker state changed",
				slog.String("broker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}
