// Package audit writes one line per queued row and delivery attempt when
// enabled. It is off by default; MAILER_AUDIT=1 or --audit turns it on.
package audit

import (
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var enabled atomic.Bool

var logger atomic.Pointer[log.Logger]

func init() {
	RefreshFromEnv()
}

// Set enables or disables audit lines.
func Set(v bool) {
	enabled.Store(v)
}

// Enabled reports whether audit lines are written.
func Enabled() bool {
	return enabled.Load()
}

// RefreshFromEnv re-reads MAILER_AUDIT.
func RefreshFromEnv() {
	Set(os.Getenv("MAILER_AUDIT") == "1")
}

// SetLogger redirects audit lines. A nil logger restores the default.
func SetLogger(l *log.Logger) {
	logger.Store(l)
}

// Log writes msg with keyvals at info level under the AUDIT prefix.
func Log(msg string, keyvals ...any) {
	if !Enabled() {
		return
	}
	l := logger.Load()
	if l == nil {
		l = log.Default()
	}
	l.WithPrefix("AUDIT").Info(msg, keyvals...)
}
