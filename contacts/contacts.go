// Package contacts reads contact lists and reduces each row to an address,
// a display name and a locale code.
package contacts

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Contact is a normalized contact row.
type Contact struct {
	Email  string
	Name   string
	Locale string
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Load reads every row of the CSV file at path.
func Load(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contacts: %w", err)
	}
	defer f.Close()

	rows, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read contacts %s: %w", path, err)
	}
	return rows, nil
}

// Read parses comma-separated rows with a variable number of fields.
func Read(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, bom)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.ReadAll()
}

// Normalize maps a raw row onto a Contact. Fields are positional:
//
//	email
//	email, name
//	email, name, locale
//	email, name, title, locale
//
// Rows without a locale column get defaultLocale. Missing fields become empty
// strings; nothing is validated here.
func Normalize(row []string, defaultLocale string) Contact {
	c := Contact{Locale: defaultLocale}
	if len(row) >= 1 {
		c.Email = row[0]
	}
	if len(row) >= 2 {
		c.Name = row[1]
	}
	switch {
	case len(row) >= 4:
		c.Locale = row[3]
	case len(row) >= 3:
		c.Locale = row[2]
	}
	return c
}
