package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Client authentication modes accepted by LoadServerTLSConfig
const (
	ClientAuthRequire = "require"
	ClientAuthRequest = "request"
	ClientAuthNone    = "none"
)

// LoadClientTLSConfig creates a TLS configuration for collector clients. Every
// argument is optional: an empty CA path keeps the system roots, and the
// client certificate is only presented when both cert and key are given.
func LoadClientTLSConfig(caCertPath, clientCertPath, clientKeyPath, serverName string) (*tls.Config, error) {
	config := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if caCertPath != "" {
		pool, err := loadCertPool(caCertPath)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}

	if clientCertPath != "" || clientKeyPath != "" {
		if clientCertPath == "" || clientKeyPath == "" {
			return nil, fmt.Errorf("client certificate and key must be given together")
		}
		clientCert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{clientCert}
	}

	return config, nil
}

// LoadServerTLSConfig creates a TLS configuration for the collector
func LoadServerTLSConfig(caCertPath, serverCertPath, serverKeyPath, clientAuth string) (*tls.Config, error) {
	pool, err := loadCertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	serverCert, err := tls.LoadX509KeyPair(serverCertPath, serverKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	var mode tls.ClientAuthType
	switch clientAuth {
	case ClientAuthRequire:
		// Verified when given at the TLS layer; the middleware rejects
		// requests without one so /api/status stays reachable.
		mode = tls.VerifyClientCertIfGiven
	case ClientAuthRequest:
		mode = tls.VerifyClientCertIfGiven
	case ClientAuthNone, "":
		mode = tls.NoClientCert
	default:
		return nil, fmt.Errorf("unknown client auth mode %q", clientAuth)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   mode,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate from %s", path)
	}
	return pool, nil
}
