// Package attachments lists the files shared by every outgoing message.
package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Collect returns the paths of every visible regular entry in dir, in
// lexical order. Names starting with "." are skipped, as are directories.
// An empty dir yields no attachments.
func Collect(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
