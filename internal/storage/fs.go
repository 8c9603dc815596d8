package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// OS implements FileSystem on the local disk.
type OS struct{}

// NewOS returns the local-disk FileSystem.
func NewOS() *OS { return &OS{} }

func checkAbs(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("storage: path must be absolute: %s", path)
	}
	return nil
}

// ReadFile returns the raw bytes of a file.
func (*OS) ReadFile(_ context.Context, path string) ([]byte, error) {
	if err := checkAbs(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile atomically writes content: tmp file → fsync → rename.
// The parent directory must exist.
func (*OS) WriteFile(_ context.Context, path string, content []byte) error {
	if err := checkAbs(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".nbkeep-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Stat returns file info for path.
func (*OS) Stat(_ context.Context, path string) (fs.FileInfo, error) {
	if err := checkAbs(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return info, nil
}

// Remove deletes a file.
func (*OS) Remove(_ context.Context, path string) error {
	if err := checkAbs(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// MkdirAll creates dir and its parents.
func (*OS) MkdirAll(_ context.Context, dir string) error {
	if err := checkAbs(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	return nil
}

var _ FileSystem = (*OS)(nil)
