package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// CreateDialer builds a kafka-go Dialer with optional TLS/SASL.
func CreateDialer(cfg *Config) (*kafkago.Dialer, error) {
	dialer := &kafkago.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	if cfg.EnableTLS {
		tc, err := BuildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("TLS config: %w", err)
		}
		dialer.TLS = tc
	}

	if cfg.Mechanism() != SASLNone {
		m, err := buildSASLMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("SASL config: %w", err)
		}
		dialer.SASLMechanism = m
	}

	return dialer, nil
}

// BuildTLSConfig returns the client TLS configuration.
func BuildTLSConfig(cfg *Config) (*tls.Config, error) {
	tc := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev brokers
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tc.RootCAs = pool
	}

	return tc, nil
}

func buildSASLMechanism(cfg *Config) (sasl.Mechanism, error) {
	switch cfg.Mechanism() {
	case SASLPlain:
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case SASLScramSHA256:
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case SASLScramSHA512:
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

// Ping dials the configured brokers in order and returns nil as soon as one
// answers a metadata request.
func Ping(ctx context.Context, cfg *Config) error {
	dialer, err := CreateDialer(cfg)
	if err != nil {
		return err
	}
	var lastErr error
	for _, addr := range cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("no broker reachable: %w", lastErr)
}
