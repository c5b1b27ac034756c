package delivery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"automailer/internal/dkim"
	"automailer/internal/metrics"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []sentMessage
	errs  []error
}

type sentMessage struct {
	from, to string
	raw      string
}

func (r *recordingSender) Send(_ context.Context, from, to string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sentMessage{from: from, to: to, raw: string(msg)})
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestTransmitSuccess(t *testing.T) {
	sender := &recordingSender{}
	mt := metrics.New(prometheus.NewRegistry())
	tx := NewTransmitter(sender, TransmitterConfig{From: "me@example.com", Retries: 1},
		WithMetrics(mt), WithLogger(quietLogger()))

	err := tx.Transmit(context.Background(), Message{To: "a@x.com", Subject: "Hi", Body: "Hi Ana"})
	if err != nil {
		t.Fatalf("Transmit error: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.calls))
	}
	call := sender.calls[0]
	if call.from != "me@example.com" || call.to != "a@x.com" {
		t.Fatalf("unexpected envelope %s -> %s", call.from, call.to)
	}
	if !strings.Contains(call.raw, "Hi Ana") {
		t.Fatalf("expected body in message, got %q", call.raw)
	}
	if got := testutil.ToFloat64(mt.EmailsSent); got != 1 {
		t.Fatalf("expected EmailsSent=1, got %v", got)
	}
	if got := testutil.ToFloat64(mt.SendAttempts); got != 1 {
		t.Fatalf("expected SendAttempts=1, got %v", got)
	}
}

func TestTransmitRetriesThenSucceeds(t *testing.T) {
	sender := &recordingSender{errs: []error{errors.New("421 try later")}}
	tx := NewTransmitter(sender, TransmitterConfig{From: "me@example.com", Retries: 2, RetryDelay: 10 * time.Millisecond},
		WithLogger(quietLogger()))

	start := time.Now()
	if err := tx.Transmit(context.Background(), Message{To: "a@x.com", Body: "x"}); err != nil {
		t.Fatalf("Transmit error: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(sender.calls))
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("expected fixed delay between attempts, took %v", elapsed)
	}
}

func TestTransmitGivesUpAfterRetries(t *testing.T) {
	failure := errors.New("connection refused")
	var attempts int
	sender := SenderFunc(func(context.Context, string, string, []byte) error {
		attempts++
		return failure
	})
	mt := metrics.New(prometheus.NewRegistry())
	tx := NewTransmitter(sender, TransmitterConfig{Retries: 1, RetryDelay: time.Millisecond},
		WithMetrics(mt), WithLogger(quietLogger()))

	err := tx.Transmit(context.Background(), Message{To: "a@x.com", Body: "x"})
	if !errors.Is(err, failure) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retries+1 attempts, got %d", attempts)
	}
	if got := testutil.ToFloat64(mt.EmailsFailed); got != 1 {
		t.Fatalf("expected EmailsFailed=1, got %v", got)
	}
	if got := testutil.ToFloat64(mt.SendAttempts); got != 2 {
		t.Fatalf("expected SendAttempts=2, got %v", got)
	}
}

func TestTransmitLongDelayWaitsForRetry(t *testing.T) {
	var attempts int
	sender := SenderFunc(func(context.Context, string, string, []byte) error {
		attempts++
		return errors.New("421 try later")
	})
	tx := NewTransmitter(sender, TransmitterConfig{Retries: 1, RetryDelay: 16 * time.Minute},
		WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const wait = 50 * time.Millisecond
	time.AfterFunc(wait, cancel)

	start := time.Now()
	err := tx.Transmit(ctx, Message{To: "a@x.com"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the retry to wait for its delay until cancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Fatalf("gave up after %v without waiting for the retry delay", elapsed)
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt before cancellation, got %d", attempts)
	}
}

func TestTransmitNegativeRetries(t *testing.T) {
	var attempts int
	sender := SenderFunc(func(context.Context, string, string, []byte) error {
		attempts++
		return errors.New("nope")
	})
	tx := NewTransmitter(sender, TransmitterConfig{Retries: -3}, WithLogger(quietLogger()))
	_ = tx.Transmit(context.Background(), Message{To: "a@x.com"})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestBuildAttachments(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cv.pdf")
	if err := os.WriteFile(good, []byte("%PDF-1.4 resume"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	missing := filepath.Join(dir, "gone.pdf")

	mt := metrics.New(prometheus.NewRegistry())
	tx := NewTransmitter(&recordingSender{}, TransmitterConfig{From: "me@example.com", FromName: "Me"},
		WithMetrics(mt), WithLogger(quietLogger()))

	raw, err := tx.Build(Message{
		To:          "a@x.com",
		Subject:     "Candidature",
		Body:        "Bonjour Ana, voilà mon CV.",
		Attachments: []string{missing, good},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	msg := string(raw)

	for _, want := range []string{
		"multipart/mixed",
		"application/octet-stream",
		"cv.pdf",
		"base64",
		base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 resume")),
		"charset=UTF-8",
		"@example.com>",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in message:\n%s", want, msg)
		}
	}
	if !strings.Contains(strings.ToLower(msg), "message-id: <") {
		t.Fatalf("expected a Message-ID header in message:\n%s", msg)
	}
	if strings.Contains(msg, "gone.pdf") {
		t.Fatalf("expected unreadable attachment to be skipped")
	}
	if got := testutil.ToFloat64(mt.AttachmentErrors); got != 1 {
		t.Fatalf("expected AttachmentErrors=1, got %v", got)
	}
}

func TestTransmitSignsMessages(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := dkim.New(dkim.Options{Selector: "mail", PrivateKey: string(keyPEM)})
	if err != nil {
		t.Fatalf("dkim.New: %v", err)
	}

	sender := &recordingSender{}
	tx := NewTransmitter(sender, TransmitterConfig{From: "me@example.com"},
		WithSigner(signer), WithLogger(quietLogger()))
	if err := tx.Transmit(context.Background(), Message{To: "a@x.com", Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("Transmit error: %v", err)
	}
	if !strings.HasPrefix(sender.calls[0].raw, "DKIM-Signature:") {
		t.Fatalf("expected signed message, got %q", sender.calls[0].raw)
	}
}
