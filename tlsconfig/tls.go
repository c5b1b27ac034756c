package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ErrNoCertificates is returned when a CA file holds no usable certificate.
var ErrNoCertificates = errors.New("no certificates found in CA file")

// Options controls the client TLS configuration used for SMTP sessions.
type Options struct {
	// ServerName is verified against the relay certificate.
	ServerName string
	// CAFile optionally replaces the system roots with a PEM bundle.
	CAFile string
	// InsecureSkipVerify disables certificate verification. Test relays only.
	InsecureSkipVerify bool
}

// ClientConfig builds the TLS configuration for STARTTLS or implicit TLS.
func ClientConfig(opts Options) (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:         opts.ServerName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec
	}
	if opts.CAFile == "" {
		return conf, nil
	}

	pemData, err := os.ReadFile(opts.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("%w: %s", ErrNoCertificates, opts.CAFile)
	}
	conf.RootCAs = pool
	return conf, nil
}
