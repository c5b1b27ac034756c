package delivery

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"automailer/storage"
)

// SpoolSender writes messages to disk instead of sending them.
type SpoolSender struct {
	spool  *storage.Spool
	logger *log.Logger
}

// NewSpoolSender returns a dry-run sender backed by spool.
func NewSpoolSender(spool *storage.Spool) *SpoolSender {
	return &SpoolSender{spool: spool, logger: log.Default()}
}

// Send stores msg under a fresh identifier.
func (s *SpoolSender) Send(_ context.Context, _ string, to string, msg []byte) error {
	path, err := s.spool.SaveMessage(uuid.NewString(), to, msg)
	if err != nil {
		return err
	}
	s.logger.Debug("Spooled message", "to", to, "path", path)
	return nil
}
