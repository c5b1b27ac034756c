package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"

	"automailer/internal/email"
)

// ErrNoSelector is returned when a key is configured without a selector.
var ErrNoSelector = errors.New("dkim: selector is required when signing is enabled")

var defaultHeaderKeys = []string{
	"from",
	"to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// Options selects the signing key. Signing is disabled when every field is empty.
type Options struct {
	Domain     string
	Selector   string
	KeyPath    string
	PrivateKey string
}

func (o Options) enabled() bool {
	return strings.TrimSpace(o.Selector) != "" ||
		strings.TrimSpace(o.KeyPath) != "" ||
		strings.TrimSpace(o.PrivateKey) != "" ||
		strings.TrimSpace(o.Domain) != ""
}

// Signer adds a DKIM-Signature header to outgoing messages. A nil Signer
// returns messages unchanged.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// New builds a Signer from opts. It returns nil, nil when signing is disabled.
func New(opts Options) (*Signer, error) {
	if !opts.enabled() {
		return nil, nil
	}
	selector := strings.TrimSpace(opts.Selector)
	if selector == "" {
		return nil, ErrNoSelector
	}

	var pemData []byte
	switch {
	case strings.TrimSpace(opts.PrivateKey) != "":
		pemData = []byte(opts.PrivateKey)
	case strings.TrimSpace(opts.KeyPath) != "":
		data, err := os.ReadFile(strings.TrimSpace(opts.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("dkim: provide a key path or an inline private key")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}

	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(opts.Domain)),
		selector:   selector,
		key:        key,
		headerKeys: defaultHeaderKeys,
	}, nil
}

// Selector returns the configured DKIM selector.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Sign returns message with a DKIM signature for the configured domain, or
// the sender's domain when none is configured. Messages that already carry a
// signature are returned untouched.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		d, err := email.Domain(from)
		if err != nil {
			return nil, fmt.Errorf("dkim: signing domain: %w", err)
		}
		domain = d
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, fmt.Errorf("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, fmt.Errorf("no private key found in PEM data")
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:")) || bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:"))
}

// normalizeLineEndings converts bare LF line endings to CRLF.
func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
