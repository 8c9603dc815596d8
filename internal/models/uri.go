// Package models defines the domain types for nbkeep.
package models

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Document identity schemes.
const (
	SchemeFile     = "file"
	SchemeUntitled = "untitled"
)

var (
	untitledNameRe = regexp.MustCompile(`^Untitled-\d+\.ipynb$`)
	schemeRe       = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):(.*)$`)
)

// URI identifies a notebook document. It is comparable and safe to use as a
// map key.
type URI struct {
	Scheme string
	Path   string
}

// FileURI returns the identity of an on-disk notebook at p.
func FileURI(p string) URI {
	return URI{Scheme: SchemeFile, Path: filepath.ToSlash(p)}
}

// UntitledURI returns the identity of a never-persisted notebook.
func UntitledURI(name string) URI {
	return URI{Scheme: SchemeUntitled, Path: name}
}

// ParseURI accepts "file:///abs/nb.ipynb", "untitled:Untitled-1.ipynb" or a
// bare absolute path. Paths are taken verbatim; no percent-decoding is done.
func ParseURI(s string) (URI, error) {
	if s == "" {
		return URI{}, fmt.Errorf("models: empty document uri")
	}
	if strings.HasPrefix(s, "/") {
		return FileURI(s), nil
	}
	m := schemeRe.FindStringSubmatch(s)
	if m == nil {
		return URI{}, fmt.Errorf("models: uri %q has no scheme and is not an absolute path", s)
	}
	scheme, rest := strings.ToLower(m[1]), m[2]
	if scheme == SchemeFile {
		rest = strings.TrimPrefix(rest, "//")
	}
	if rest == "" {
		return URI{}, fmt.Errorf("models: uri %q has no path", s)
	}
	return URI{Scheme: scheme, Path: rest}, nil
}

// String renders the identity in URI form. The result is stable and is used
// to derive storage keys.
func (u URI) String() string {
	if u.Scheme == SchemeFile {
		return "file://" + u.Path
	}
	return u.Scheme + ":" + u.Path
}

// IsZero reports whether u is the zero identity.
func (u URI) IsZero() bool { return u == URI{} }

// IsFile reports whether u names a real file-system entry.
func (u URI) IsFile() bool { return u.Scheme == SchemeFile }

// IsUntitled reports whether u names an unsaved document. Detection is purely
// by scheme and name; the file system is never consulted.
func (u URI) IsUntitled() bool {
	if u.Scheme == SchemeUntitled {
		return true
	}
	return u.Scheme != SchemeFile && untitledNameRe.MatchString(u.Base())
}

// Base returns the last element of the path.
func (u URI) Base() string { return path.Base(u.Path) }

// FilePath returns the OS path for file identities.
func (u URI) FilePath() string { return filepath.FromSlash(u.Path) }

// MarshalText implements encoding.TextMarshaler.
func (u URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *URI) UnmarshalText(b []byte) error {
	parsed, err := ParseURI(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
