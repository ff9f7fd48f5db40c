// Package config is the shared INI-style reader/writer used for both the
// repository's `config` file (§4.3) and prepare-root.conf (§4.8 step 2).
// Unknown keys are preserved rather than rejected, so a store or boot
// config written by a newer tool round-trips through this one (§6:
// "unknown keys are ignored").
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// File is a parsed INI document: an ordered set of sections, each an
// ordered set of key/value string pairs.
type File struct {
	order    []string
	sections map[string]*Section
}

// Section holds one [name] block's key/value pairs.
type Section struct {
	order  []string
	values map[string]string
}

// New returns an empty config file.
func New() *File {
	return &File{sections: make(map[string]*Section)}
}

// Section returns the named section, creating it if absent.
func (f *File) Section(name string) *Section {
	if s, ok := f.sections[name]; ok {
		return s
	}
	s := &Section{values: make(map[string]string)}
	f.sections[name] = s
	f.order = append(f.order, name)
	return s
}

// HasSection reports whether name exists without creating it.
func (f *File) HasSection(name string) bool {
	_, ok := f.sections[name]
	return ok
}

// Set stores value under key, creating the entry order on first use.
func (s *Section) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = value
}

// Get returns the raw string value and whether it was present.
func (s *Section) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value or def if the key is absent.
func (s *Section) GetString(key, def string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// GetBool parses an INI boolean (`true`/`yes`/`1` vs `false`/`no`/`0`).
// A value that parses as neither is reported as InvalidFormat, per §6's
// "unknown values in enumerated fields are fatal".
func (s *Section) GetBool(key string, def bool) (bool, error) {
	v, ok := s.values[key]
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, ostreeerr.InvalidFormatf("config: invalid boolean value %q for key %q", v, key)
	}
}

// Keys returns the section's keys in insertion order.
func (s *Section) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Parse reads an INI document: `[section]` headers, `key = value` or
// `key=value` lines, `#`/`;` comments, blank lines ignored.
func Parse(r io.Reader) (*File, error) {
	f := New()
	cur := f.Section("") // keys before any header land in the nameless section

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, ostreeerr.InvalidFormatf("config: line %d: unterminated section header", lineNo)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			cur = f.Section(name)
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, ostreeerr.InvalidFormatf("config: line %d: missing '='", lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return nil, ostreeerr.InvalidFormatf("config: line %d: empty key", lineNo)
		}
		cur.Set(key, val)
	}
	if err := scanner.Err(); err != nil {
		return nil, ostreeerr.IOf("config: scan: %w", err)
	}
	return f, nil
}

// ParseFile opens and parses path. A missing file yields an empty File
// and no error, matching the "overlay a possibly-absent file" pattern
// used by both repo config and prepare-root.conf layering.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, ostreeerr.IOf("config: read %s: %w", path, err)
	}
	return Parse(strings.NewReader(string(data)))
}

// Overlay merges other on top of f: every key present in other replaces
// the corresponding key in f (or is added), section by section. Used for
// `/usr/lib/ostree/prepare-root.conf` overlaid by `/etc/ostree/prepare-root.conf`.
func (f *File) Overlay(other *File) {
	for _, name := range other.order {
		src := other.sections[name]
		dst := f.Section(name)
		for _, k := range src.order {
			dst.Set(k, src.values[k])
		}
	}
}

// Encode serializes the file back to INI text, sections and keys in
// insertion order, skipping the nameless prelude section if empty.
func (f *File) Encode(w io.Writer) error {
	for _, name := range f.order {
		s := f.sections[name]
		if name == "" && len(s.order) == 0 {
			continue
		}
		if name != "" {
			if _, err := fmt.Fprintf(w, "[%s]\n", name); err != nil {
				return err
			}
		}
		for _, k := range s.order {
			if _, err := fmt.Fprintf(w, "%s=%s\n", k, s.values[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFile serializes and writes the file with a direct os.WriteFile
// (no temp-then-rename); repo.Init writes the repo config through it.
func WriteFile(path string, f *File) error {
	var buf strings.Builder
	if err := f.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
		return ostreeerr.IOf("config: write %s: %w", path, err)
	}
	return nil
}

// SectionNames returns the named sections' names sorted alphabetically
// (not in insertion order).
func (f *File) SectionNames() []string {
	names := make([]string, 0, len(f.order))
	for _, n := range f.order {
		if n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// FormatBool renders a bool the way this package's writer prefers, used
// when programmatically constructing a File rather than parsing one.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ParseInt is a small helper for numeric INI values (unused keys in the
// current key set, kept for forward-compatible numeric fields).
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
