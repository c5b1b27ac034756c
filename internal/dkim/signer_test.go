package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func generateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestNewDisabled(t *testing.T) {
	signer, err := New(Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if signer != nil {
		t.Fatalf("expected nil signer when nothing is configured")
	}

	out, err := signer.Sign([]byte("Subject: x\r\n\r\nbody"), "a@x.com")
	if err != nil || string(out) != "Subject: x\r\n\r\nbody" {
		t.Fatalf("expected nil signer to pass message through, got %q, %v", out, err)
	}
}

func TestNewRequiresSelector(t *testing.T) {
	_, err := New(Options{PrivateKey: string(generateKeyPEM(t))})
	if !errors.Is(err, ErrNoSelector) {
		t.Fatalf("expected ErrNoSelector, got %v", err)
	}
}

func TestNewFromKeyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkim.pem")
	if err := os.WriteFile(path, generateKeyPEM(t), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	signer, err := New(Options{Selector: "mail", KeyPath: path, Domain: "Example.com"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if signer.Selector() != "mail" || signer.domain != "example.com" {
		t.Fatalf("unexpected signer %+v", signer)
	}
}

func TestNewRejectsGarbageKey(t *testing.T) {
	if _, err := New(Options{Selector: "mail", PrivateKey: "nope"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSignerSignAddsHeader(t *testing.T) {
	signer, err := New(Options{Selector: "test", PrivateKey: string(generateKeyPEM(t))})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	raw := "From: sender@example.com\nSubject: Test\n\nBody\n"
	signed, err := signer.Sign([]byte(raw), "sender@example.com")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	payload := string(signed)
	if !strings.Contains(payload, "DKIM-Signature:") {
		t.Fatalf("expected DKIM-Signature header, got %q", payload)
	}
	if !strings.Contains(payload, "d=example.com") {
		t.Fatalf("expected sender domain in signature, got %q", payload)
	}
	if !strings.Contains(payload, "\r\nFrom: sender@example.com") {
		t.Fatalf("expected CRLF normalized output, got %q", payload)
	}
}

func TestSignerCoversDateAndMessageID(t *testing.T) {
	signer, err := New(Options{Selector: "test", PrivateKey: string(generateKeyPEM(t))})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	raw := "From: sender@example.com\r\nTo: a@x.com\r\nSubject: Test\r\n" +
		"Date: Mon, 19 Oct 2026 10:00:00 +0000\r\nMessage-ID: <id@example.com>\r\n\r\nBody\r\n"
	signed, err := signer.Sign([]byte(raw), "sender@example.com")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	unfolded := strings.NewReplacer("\r\n", "", " ", "", "\t", "").Replace(string(signed))
	start := strings.Index(unfolded, "h=")
	if start == -1 {
		t.Fatalf("expected h= tag in %q", unfolded)
	}
	tag := unfolded[start:]
	if end := strings.Index(tag, ";"); end != -1 {
		tag = tag[:end]
	}
	for _, want := range []string{"date", "message-id"} {
		if !strings.Contains(strings.ToLower(tag), want) {
			t.Fatalf("expected %s in signed headers, got %q", want, tag)
		}
	}
}

func TestSignerNeedsDomain(t *testing.T) {
	signer, err := New(Options{Selector: "test", PrivateKey: string(generateKeyPEM(t))})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := signer.Sign([]byte("Subject: x\r\n\r\nbody"), "no-domain"); err == nil {
		t.Fatalf("expected error when no signing domain can be found")
	}
}

func TestSignerSkipsWhenHeaderPresent(t *testing.T) {
	signer, err := New(Options{Selector: "test", PrivateKey: string(generateKeyPEM(t))})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	raw := "DKIM-Signature: existing\r\nFrom: sender@example.com\r\n\r\nBody\r\n"
	signed, err := signer.Sign([]byte(raw), "sender@example.com")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if string(signed) != raw {
		t.Fatalf("expected message to remain unchanged when signature exists")
	}
}
