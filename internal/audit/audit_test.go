package audit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestSetEnabled(t *testing.T) {
	Set(false)
	if Enabled() {
		t.Fatalf("expected disabled after Set(false)")
	}
	Set(true)
	if !Enabled() {
		t.Fatalf("expected enabled after Set(true)")
	}
	Set(false)
}

func TestRefreshFromEnv(t *testing.T) {
	t.Setenv("MAILER_AUDIT", "1")
	Set(false)
	RefreshFromEnv()
	if !Enabled() {
		t.Fatalf("expected enabled after RefreshFromEnv")
	}
	t.Setenv("MAILER_AUDIT", "0")
	RefreshFromEnv()
	if Enabled() {
		t.Fatalf("expected disabled when MAILER_AUDIT=0")
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(log.New(&buf))
	t.Cleanup(func() {
		SetLogger(nil)
		Set(false)
	})

	Set(false)
	Log("Queued", "row", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected no output while disabled, got %q", buf.String())
	}

	Set(true)
	Log("Queued", "row", 2)
	out := buf.String()
	if !strings.Contains(out, "AUDIT") || !strings.Contains(out, "Queued") || !strings.Contains(out, "row=2") {
		t.Fatalf("unexpected audit line %q", out)
	}
}
