package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultDir is where dry-run messages are written when no directory is set.
const DefaultDir = "./data/spool"

// ErrInvalidIdentifier is returned for message ids that are empty or would
// escape the spool directory.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Spool writes rendered messages to disk, one file per recipient, grouped in
// a directory per UTC day.
type Spool struct {
	dir string
	now func() time.Time
}

// NewSpool returns a spool rooted at dir.
func NewSpool(dir string) *Spool {
	if dir == "" {
		dir = DefaultDir
	}
	return &Spool{dir: dir, now: time.Now}
}

// Dir returns the spool root.
func (s *Spool) Dir() string {
	return s.dir
}

// SaveMessage stores data as <dir>/<day>/<id>_<recipient-hash>.eml and
// returns the file path. The recipient address is hashed so it never appears
// in file names.
func (s *Spool) SaveMessage(id string, to string, data []byte) (string, error) {
	safeID, err := sanitizeComponent(id)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.dir, s.now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.eml", safeID, hashRecipient(to)))
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("write spool file: %w", err)
	}
	return filename, nil
}

func sanitizeComponent(v string) (string, error) {
	if strings.ContainsAny(v, "/\\") || strings.Contains(v, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, v)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	return v, nil
}

func hashRecipient(addr string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(addr))))
	return hex.EncodeToString(sum[:8])
}
