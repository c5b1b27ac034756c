// Package templates holds the per-locale message bodies and the name
// substitution applied to them.
package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPlaceholder is replaced by the contact's name.
const DefaultPlaceholder = "[NAME]"

// ErrMissingDefault is returned when no template exists for the default locale.
var ErrMissingDefault = errors.New("no template for default locale")

// Store maps locale codes to message bodies. It is read-only after Load.
type Store struct {
	bodies        map[string]string
	defaultLocale string
}

// Paths builds the locale to file map for a directory of templates named
// after pattern, e.g. "email_%s.txt".
func Paths(dir, pattern string, locales []string) map[string]string {
	files := make(map[string]string, len(locales))
	for _, locale := range locales {
		locale = strings.TrimSpace(locale)
		if locale == "" {
			continue
		}
		files[locale] = filepath.Join(dir, fmt.Sprintf(pattern, locale))
	}
	return files
}

// Load reads one template file per locale.
func Load(files map[string]string, defaultLocale string) (*Store, error) {
	bodies := make(map[string]string, len(files))
	for locale, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", locale, err)
		}
		bodies[locale] = string(data)
	}
	return New(bodies, defaultLocale)
}

// New builds a Store from bodies already in memory.
func New(bodies map[string]string, defaultLocale string) (*Store, error) {
	if _, ok := bodies[defaultLocale]; !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingDefault, defaultLocale)
	}
	copied := make(map[string]string, len(bodies))
	for k, v := range bodies {
		copied[k] = v
	}
	return &Store{bodies: copied, defaultLocale: defaultLocale}, nil
}

// Select returns the body for locale, or the default-locale body when the
// code is unknown. The match is exact.
func (s *Store) Select(locale string) string {
	if body, ok := s.bodies[locale]; ok {
		return body
	}
	return s.bodies[s.defaultLocale]
}

// Locales returns the loaded locale codes in sorted order.
func (s *Store) Locales() []string {
	out := make([]string, 0, len(s.bodies))
	for k := range s.bodies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultLocale returns the fallback locale code.
func (s *Store) DefaultLocale() string {
	return s.defaultLocale
}

// Format replaces every occurrence of placeholder in body with name. An empty
// name removes the placeholder.
func Format(body, placeholder, name string) string {
	if placeholder == "" {
		return body
	}
	return strings.ReplaceAll(body, placeholder, name)
}
