// Package hotexit locates and persists uncommitted ("hot-exit") notebook
// content. The primary tier is a content-addressed directory of backup files;
// two legacy key/value stores are consulted as read-only fallbacks and are
// migrated out of over time.
package hotexit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/storage"
)

// StorageKeyPrefix starts every default storage key, in the backup directory
// and in the legacy stores alike.
const StorageKeyPrefix = "notebook-storage-"

const migrationName = "notebook-storage-to-files"

// Record is the on-disk backup envelope.
type Record struct {
	Contents           string `json:"contents"`
	LastModifiedTimeMs int64  `json:"lastModifiedTimeMs"`
}

// LegacyStore is a JSON-valued key/value map; *state.KV satisfies it.
type LegacyStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Take(ctx context.Context, key string) (json.RawMessage, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MigrationState persists whether the legacy sweep ran; *state.DB satisfies it.
type MigrationState interface {
	MigrationApplied(ctx context.Context, name string) (bool, error)
	MarkMigrationApplied(ctx context.Context, name string) error
}

// Options configures a Store.
type Options struct {
	Dir        string // global storage directory holding backup files
	FS         storage.FileSystem
	Global     LegacyStore
	Workspace  LegacyStore
	Migrations MigrationState
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store resolves dirty content across the storage tiers and writes the
// primary tier.
type Store struct {
	dir        string
	fs         storage.FileSystem
	global     LegacyStore
	workspace  LegacyStore
	migrations MigrationState
	logger     *slog.Logger
	now        func() time.Time

	migrated atomic.Bool
}

// New creates a Store. The persisted migration flag is read once here.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dir == "" || !filepath.IsAbs(opts.Dir) {
		return nil, fmt.Errorf("hotexit: storage dir must be an absolute path: %q", opts.Dir)
	}
	if opts.FS == nil || opts.Global == nil || opts.Workspace == nil || opts.Migrations == nil {
		return nil, fmt.Errorf("hotexit: file system, legacy stores and migration state are required")
	}
	s := &Store{
		dir:        opts.Dir,
		fs:         opts.FS,
		global:     opts.Global,
		workspace:  opts.Workspace,
		migrations: opts.Migrations,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	applied, err := opts.Migrations.MigrationApplied(ctx, migrationName)
	if err != nil {
		return nil, fmt.Errorf("hotexit: read migration flag: %w", err)
	}
	s.migrated.Store(applied)
	return s, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string { return s.dir }

// StorageKey is the default key for uri when the host supplies no backup id.
func StorageKey(uri models.URI) string {
	return StorageKeyPrefix + uri.String()
}

// HashKey derives the backup file stem for key. Not security sensitive.
func HashKey(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// HashedPath returns the backup file path for key.
func (s *Store) HashedPath(key string) string {
	return filepath.Join(s.dir, HashKey(key)+".ipynb")
}

// Capture stamps contents with the current time.
func (s *Store) Capture(contents string) *Record {
	return &Record{Contents: contents, LastModifiedTimeMs: s.now().UnixMilli()}
}

// Write persists rec under key, or deletes the backup when rec is nil.
// A missing file on delete is success. ctx is checked before the directory is
// created and again before the write; a cancelled write does no I/O and
// returns nil.
func (s *Store) Write(ctx context.Context, key string, rec *Record) error {
	if ctx.Err() != nil {
		return nil
	}
	path := s.HashedPath(key)

	if rec == nil {
		if err := s.fs.Remove(ctx, path); err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("hotexit: delete backup: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hotexit: encode backup: %w", err)
	}
	if err := s.fs.MkdirAll(ctx, s.dir); err != nil {
		return fmt.Errorf("hotexit: create backup dir: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.fs.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("hotexit: write backup: %w", err)
	}
	return nil
}
