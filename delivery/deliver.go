package delivery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/domodwyer/mailyak/v3"
	"github.com/google/uuid"

	"automailer/internal/audit"
	"automailer/internal/dkim"
	"automailer/internal/email"
	"automailer/internal/metrics"
)

const attachmentMimeType = "application/octet-stream"

// Sender hands a rendered message to a transport.
type Sender interface {
	Send(ctx context.Context, from, to string, msg []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, from, to string, msg []byte) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, from, to string, msg []byte) error {
	return f(ctx, from, to, msg)
}

// Message is one personalized email for a single recipient.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []string
}

// TransmitterConfig holds the sender identity and retry policy.
type TransmitterConfig struct {
	From     string
	FromName string
	// Retries is the number of additional attempts after the first one fails.
	Retries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

// Transmitter builds MIME messages and delivers them with a fixed-delay retry
// policy.
type Transmitter struct {
	sender   Sender
	cfg      TransmitterConfig
	signer   *dkim.Signer
	metrics  *metrics.Metrics
	logger   *log.Logger
	readFile func(string) ([]byte, error)
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithSigner signs every message before it is sent.
func WithSigner(s *dkim.Signer) Option {
	return func(t *Transmitter) { t.signer = s }
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transmitter) { t.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Transmitter) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransmitter returns a Transmitter delivering through sender.
func NewTransmitter(sender Sender, cfg TransmitterConfig, opts ...Option) *Transmitter {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	t := &Transmitter{
		sender:   sender,
		cfg:      cfg,
		logger:   log.Default(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transmit builds and sends msg, retrying up to Retries times. Every failed
// attempt is logged; the error of the last attempt is returned once all
// attempts are exhausted.
func (t *Transmitter) Transmit(ctx context.Context, msg Message) error {
	maxAttempts := t.cfg.Retries + 1
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		t.metrics.IncAttempts()
		err := t.attempt(ctx, msg)
		audit.Log("Delivery attempt", "to", msg.To, "attempt", attempt, "ok", err == nil)
		if err != nil {
			t.logger.Warn("Failed to send email",
				"to", msg.To,
				"attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts),
				"err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(t.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		t.metrics.IncFailed()
		t.logger.Error("Giving up on email", "to", msg.To, "attempts", attempt, "err", err)
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}

	t.metrics.IncSent()
	t.logger.Info("Email sent", "to", msg.To)
	return nil
}

func (t *Transmitter) attempt(ctx context.Context, msg Message) error {
	raw, err := t.Build(msg)
	if err != nil {
		return err
	}
	raw, err = t.signer.Sign(raw, t.cfg.From)
	if err != nil {
		return err
	}
	return t.sender.Send(ctx, t.cfg.From, msg.To, raw)
}

// Build renders msg as a multipart MIME message: a UTF-8 plain-text body
// followed by one base64 octet-stream part per readable attachment.
// Unreadable attachments are logged and left out.
func (t *Transmitter) Build(msg Message) ([]byte, error) {
	m := mailyak.New("", nil)
	m.From(t.cfg.From)
	if t.cfg.FromName != "" {
		m.FromName(t.cfg.FromName)
	}
	m.To(msg.To)
	m.Subject(msg.Subject)
	if domain, err := email.Domain(t.cfg.From); err == nil && domain != "" {
		m.AddHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	}
	m.Plain().Set(msg.Body)

	for _, path := range msg.Attachments {
		data, err := t.readFile(path)
		if err != nil {
			t.metrics.IncAttachmentErrors()
			t.logger.Warn("Failed to attach file", "path", path, "err", err)
			continue
		}
		m.AttachWithMimeType(filepath.Base(path), bytes.NewReader(data), attachmentMimeType)
	}

	buf, err := m.MimeBuf()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	return buf.Bytes(), nil
}
