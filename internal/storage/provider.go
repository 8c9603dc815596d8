// Package storage defines the byte-oriented file-system abstraction used by
// the notebook persistence layer.
package storage

import (
	"context"
	"errors"
	"io/fs"
)

// FileSystem is the interface for notebook and backup file operations.
// Paths are absolute OS paths. Errors for missing entries wrap fs.ErrNotExist.
type FileSystem interface {
	// ReadFile returns the raw bytes of the file at path.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile atomically replaces the file at path with data.
	WriteFile(ctx context.Context, path string, data []byte) error
	// Stat returns file info for path.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	// Remove deletes the file at path.
	Remove(ctx context.Context, path string) error
	// MkdirAll creates dir and any missing parents.
	MkdirAll(ctx context.Context, dir string) error
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
