// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tls loads client-side TLS material for broker connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	errLoadCerts    = errors.New("failed to load client certificate")
	errLoadCA       = errors.New("failed to load CA file")
	errAppendCA     = errors.New("failed to append CA certificates to pool")
	errIncompleteKP = errors.New("cert_file and key_file must be set together")
)

// Config names the files a client TLS configuration is built from.
type Config struct {
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"` // Overrides the dialed host for verification
}

// Empty reports whether c carries no TLS material at all.
func (c Config) Empty() bool {
	return c.CAFile == "" && c.CertFile == "" && c.KeyFile == "" && c.ServerName == ""
}

// LoadClientConfig returns a base client configuration, or nil when c is empty.
// Verification mode is decided by the dialer, not here.
func LoadClientConfig(c Config) (*tls.Config, error) {
	if c.Empty() {
		return nil, nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, errIncompleteKP
	}

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.ServerName,
	}

	if c.CertFile != "" {
		certificate, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.Join(errLoadCerts, err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	if c.CAFile != "" {
		ca, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.Join(errLoadCA, err)
		}
		config.RootCAs = x509.NewCertPool()
		if !config.RootCAs.AppendCertsFromPEM(ca) {
			return nil, errAppendCA
		}
	}

	return config, nil
}

// SecurityStatus returns a log-friendly description of the client TLS setup.
func SecurityStatus(enabled, verify bool, c *tls.Config) string {
	if !enabled {
		return "no TLS"
	}
	ret := "TLS"
	if !verify {
		ret += " without peer verification"
	}
	if c != nil && len(c.Certificates) > 0 {
		ret += " with client certificate"
	}
	return ret
}
