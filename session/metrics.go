// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/absmach/amqpconn/session"

// Metrics holds OpenTelemetry instruments for sessions. A nil *Metrics
// records nothing.
type Metrics struct {
	meter metric.Meter

	connectsTotal       metric.Int64Counter
	connectFailures     metric.Int64Counter
	serverDownTotal     metric.Int64Counter
	bytesRead           metric.Int64Counter
	bytesWritten        metric.Int64Counter
	framesReceived      metric.Int64Counter
	framesSent          metric.Int64Counter
	returnedMessages    metric.Int64Counter
	closeErrors         metric.Int64Counter
	sessionsConnected   metric.Int64UpDownCounter
	connectDurationSecs metric.Float64Histogram
}

// NewMetrics creates session instruments on provider, or on the global
// provider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m := &Metrics{meter: provider.Meter(meterName)}

	var err error

	m.connectsTotal, err = m.meter.Int64Counter(
		"amqpconn.connects.total",
		metric.WithDescription("Total number of established broker connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectsTotal counter: %w", err)
	}

	m.connectFailures, err = m.meter.Int64Counter(
		"amqpconn.connect.failures.total",
		metric.WithDescription("Total number of failed connection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectFailures counter: %w", err)
	}

	m.serverDownTotal, err = m.meter.Int64Counter(
		"amqpconn.server_down.total",
		metric.WithDescription("Total number of connections dropped after an I/O failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create serverDownTotal counter: %w", err)
	}

	m.bytesRead, err = m.meter.Int64Counter(
		"amqpconn.bytes.read.total",
		metric.WithDescription("Total bytes read from brokers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesRead counter: %w", err)
	}

	m.bytesWritten, err = m.meter.Int64Counter(
		"amqpconn.bytes.written.total",
		metric.WithDescription("Total bytes written to brokers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesWritten counter: %w", err)
	}

	m.framesReceived, err = m.meter.Int64Counter(
		"amqpconn.frames.received.total",
		metric.WithDescription("Total frames decoded from brokers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesReceived counter: %w", err)
	}

	m.framesSent, err = m.meter.Int64Counter(
		"amqpconn.frames.sent.total",
		metric.WithDescription("Total frames written to brokers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesSent counter: %w", err)
	}

	m.returnedMessages, err = m.meter.Int64Counter(
		"amqpconn.returned_messages.total",
		metric.WithDescription("Total messages returned by brokers as unroutable"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create returnedMessages counter: %w", err)
	}

	m.closeErrors, err = m.meter.Int64Counter(
		"amqpconn.close.errors.total",
		metric.WithDescription("Total errors suppressed while closing sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create closeErrors counter: %w", err)
	}

	m.sessionsConnected, err = m.meter.Int64UpDownCounter(
		"amqpconn.sessions.connected",
		metric.WithDescription("Current number of connected sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessionsConnected gauge: %w", err)
	}

	m.connectDurationSecs, err = m.meter.Float64Histogram(
		"amqpconn.connect.duration",
		metric.WithDescription("Time taken to establish a broker connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectDuration histogram: %w", err)
	}

	return m, nil
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("transport", kind))
}

func (m *Metrics) recordConnect(ctx context.Context, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.connectsTotal.Add(ctx, 1, kindAttr(kind))
	m.sessionsConnected.Add(ctx, 1, kindAttr(kind))
	m.connectDurationSecs.Record(ctx, seconds, kindAttr(kind))
}

func (m *Metrics) recordConnectFailure(ctx context.Context, kind, reason string) {
	if m == nil {
		return
	}
	m.connectFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", kind),
		attribute.String("reason", reason),
	))
}

// recordDisconnect undoes recordConnect's gauge increment.
func (m *Metrics) recordDisconnect(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.sessionsConnected.Add(ctx, -1, kindAttr(kind))
}

func (m *Metrics) recordServerDown(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.serverDownTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) recordRead(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(ctx, int64(n))
}

func (m *Metrics) recordWrite(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(ctx, int64(n))
}

func (m *Metrics) recordFrameReceived(ctx context.Context, frameType byte) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, metric.WithAttributes(attribute.Int("type", int(frameType))))
}

func (m *Metrics) recordFrameSent(ctx context.Context, frameType byte) {
	if m == nil {
		return
	}
	m.framesSent.Add(ctx, 1, metric.WithAttributes(attribute.Int("type", int(frameType))))
}

func (m *Metrics) recordReturned(ctx context.Context) {
	if m == nil {
		return
	}
	m.returnedMessages.Add(ctx, 1)
}

func (m *Metrics) recordCloseErrors(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.closeErrors.Add(ctx, int64(n))
}
