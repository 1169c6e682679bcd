// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/absmach/amqpconn/pkg/tls"
	"github.com/absmach/amqpconn/ratelimit"
	"github.com/absmach/amqpconn/session"
	"github.com/absmach/amqpconn/transport"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for an AMQP client.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ConnectionConfig describes how to reach the broker.
type ConnectionConfig struct {
	URL               string        `yaml:"url"` // Overrides the address, credential and tuning fields it sets
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Pass              string        `yaml:"pass"`
	Vhost             string        `yaml:"vhost"`
	SSL               bool          `yaml:"ssl"`
	VerifySSL         bool          `yaml:"verify_ssl"`
	FrameMax          uint32        `yaml:"frame_max"`
	ChannelMax        uint16        `yaml:"channel_max"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	SocketTimeout     time.Duration `yaml:"socket_timeout"`     // 0 disables
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"` // 0 derives from socket_timeout
	ConnectionType    string        `yaml:"connection_type"`    // socket, cooperative; empty derives from the reactor

	TLS         tls.Config       `yaml:"tls"`
	Breaker     BreakerConfig    `yaml:"breaker"`
	ConnectRate ratelimit.Config `yaml:"connect_rate"`
}

// BreakerConfig holds circuit breaker configuration for connection attempts.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`   // empty logs to stdout
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // text, json
}

// MetricsConfig holds OpenTelemetry metrics configuration.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:           session.DefaultHost,
			Port:           session.DefaultPort,
			User:           session.DefaultUsername,
			Pass:           session.DefaultPassword,
			Vhost:          session.DefaultVhost,
			VerifySSL:      true,
			FrameMax:       session.DefaultFrameMax,
			ConnectTimeout: session.DefaultConnectTimeout,
			Breaker: BreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
			ConnectRate: ratelimit.DefaultConfig(),
		},
		Log: LogConfig{
			Enabled: false,
			Level:   "info",
			Format:  "text",
		},
		Metrics: MetricsConfig{
			Enabled:     false,
			ServiceName: "amqpconn",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	conn := c.Connection
	if conn.URL == "" && conn.Host == "" {
		return fmt.Errorf("connection.host cannot be empty")
	}
	if conn.Port < 0 || conn.Port > 65535 {
		return fmt.Errorf("connection.port must be between 0 and 65535")
	}
	if conn.FrameMax != 0 && conn.FrameMax < 4096 {
		return fmt.Errorf("connection.frame_max must be 0 or at least 4096")
	}
	if conn.ConnectTimeout <= 0 {
		return fmt.Errorf("connection.connect_timeout must be positive")
	}
	if conn.Heartbeat < 0 || conn.SocketTimeout < 0 || conn.DisconnectTimeout < 0 {
		return fmt.Errorf("connection timeouts cannot be negative")
	}
	if _, err := parseKind(conn.ConnectionType); err != nil {
		return fmt.Errorf("connection.connection_type must be one of: socket, cooperative")
	}
	if (conn.TLS.CertFile == "") != (conn.TLS.KeyFile == "") {
		return fmt.Errorf("connection.tls.cert_file and connection.tls.key_file must be set together")
	}

	if conn.Breaker.Enabled {
		if conn.Breaker.FailureThreshold < 1 {
			return fmt.Errorf("connection.breaker.failure_threshold must be at least 1")
		}
		if conn.Breaker.ResetTimeout < time.Second {
			return fmt.Errorf("connection.breaker.reset_timeout must be at least 1 second")
		}
	}
	if conn.ConnectRate.Enabled {
		if conn.ConnectRate.Rate <= 0 {
			return fmt.Errorf("connection.connect_rate.rate must be positive")
		}
		if conn.ConnectRate.Burst < 1 {
			return fmt.Errorf("connection.connect_rate.burst must be at least 1")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Metrics.Enabled && c.Metrics.ServiceName == "" {
		return fmt.Errorf("metrics.service_name cannot be empty when metrics enabled")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SessionOptions converts the connection section into session options.
// reactor is required when connection_type is cooperative. An empty
// connection_type selects cooperative when reactor is non-nil and socket
// otherwise.
func (c *Config) SessionOptions(reactor *transport.Reactor) (*session.Options, error) {
	conn := c.Connection

	opts := session.NewOptions()
	if conn.URL != "" {
		parsed, err := session.ParseURL(conn.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts.SetHost(conn.Host).
			SetPort(conn.Port).
			SetCredentials(conn.User, conn.Pass).
			SetVhost(conn.Vhost).
			SetFrameMax(conn.FrameMax).
			SetChannelMax(conn.ChannelMax).
			SetHeartbeat(conn.Heartbeat).
			SetConnectTimeout(conn.ConnectTimeout)
		opts.TLS = conn.SSL
	}
	opts.VerifyTLS = conn.VerifySSL
	opts.SetSocketTimeout(conn.SocketTimeout).SetDisconnectTimeout(conn.DisconnectTimeout)

	kind, err := parseKind(conn.ConnectionType)
	if err != nil {
		return nil, err
	}
	if kind == transport.KindCooperative && reactor == nil {
		return nil, transport.ErrNoReactor
	}
	// A zero kind is resolved from the reactor when the session is built.
	opts.SetTransport(kind).SetReactor(reactor)

	tlsCfg, err := tls.LoadClientConfig(conn.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}
	opts.SetTLSConfig(tlsCfg)

	if conn.Breaker.Enabled {
		opts.SetBreaker(&session.BreakerSettings{
			FailureThreshold: uint32(conn.Breaker.FailureThreshold),
			ResetTimeout:     conn.Breaker.ResetTimeout,
		})
	}
	if l := ratelimit.New(conn.ConnectRate); l != nil {
		opts.SetConnectLimiter(l)
	}

	return opts, opts.Validate()
}

// parseKind maps connection_type to a transport kind. Empty yields the zero
// Kind.
func parseKind(name string) (transport.Kind, error) {
	if name == "" {
		return 0, nil
	}
	return transport.ParseKind(name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the logger described by cfg. The returned Closer releases
// the log file, if any. A disabled configuration yields a logger that
// discards everything.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	if !cfg.Enabled {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}

	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler), closer, nil
}
