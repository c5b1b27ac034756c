package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// ErrTLSUnavailable is returned when the relay does not offer STARTTLS and
// the session is required to be encrypted.
var ErrTLSUnavailable = errors.New("relay does not support STARTTLS")

// SMTPConfig describes the submission relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// HeloName is announced in EHLO.
	HeloName string
	// Timeout bounds the dial and every session started by Send.
	Timeout time.Duration
	// TLS is used for STARTTLS and implicit TLS. Nil means a default config
	// verifying Host.
	TLS *tls.Config
	// RequireTLS fails the session when STARTTLS is not offered.
	RequireTLS bool
	// ImplicitTLS wraps the connection in TLS before the greeting (port 465).
	ImplicitTLS bool
}

// SMTPSender submits each message over its own authenticated session.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender returns a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.cfg.TLS != nil {
		return s.cfg.TLS.Clone()
	}
	return &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
}

// Send opens a session, authenticates and transmits msg to a single recipient.
// No connection is reused between calls.
func (s *SMTPSender) Send(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if s.cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	if s.cfg.ImplicitTLS {
		tlsConn := tls.Client(conn, s.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	helo := s.cfg.HeloName
	if helo == "" {
		helo = "localhost"
	}
	if err := client.Hello(helo); err != nil {
		return fmt.Errorf("helo: %w", err)
	}

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig()); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		} else if s.cfg.RequireTLS {
			return fmt.Errorf("starttls: %w", ErrTLSUnavailable)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	if s.cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}
