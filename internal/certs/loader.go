// Package certs loads the mutual TLS material used to reach the directory proxy.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Certificates holds certificate data in memory
type Certificates struct {
	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
}

// Config for loading certificates
type Config struct {
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
}

// Enabled reports whether any certificate path is configured.
func (c Config) Enabled() bool {
	return c.CACertPath != "" || c.ClientCertPath != "" || c.ClientKeyPath != ""
}

// Load loads certificates from file paths. The client pair is optional when
// only a private CA is needed.
func Load(cfg Config) (*Certificates, error) {
	certs := &Certificates{}

	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		certs.CACert = caCert
	}

	if (cfg.ClientCertPath == "") != (cfg.ClientKeyPath == "") {
		return nil, fmt.Errorf("client cert and key must be set together")
	}

	if cfg.ClientCertPath != "" {
		clientCert, err := os.ReadFile(cfg.ClientCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client cert: %w", err)
		}
		certs.ClientCert = clientCert

		clientKey, err := os.ReadFile(cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client key: %w", err)
		}
		certs.ClientKey = clientKey
	}

	return certs, nil
}

// TLSConfig creates a client tls.Config from certificates
func (c *Certificates) TLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if len(c.ClientCert) > 0 {
		clientCert, err := tls.X509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{clientCert}
	}

	if len(c.CACert) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(c.CACert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = caCertPool
	}

	return cfg, nil
}
