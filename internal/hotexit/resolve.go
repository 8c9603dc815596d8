package hotexit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/storage"
)

// ResolveDirtyContent returns uncommitted content for uri stored under key.
// Tiers are searched in order: backup file, legacy global store, legacy
// workspace store. Failures are logged and treated as absent.
func (s *Store) ResolveDirtyContent(ctx context.Context, uri models.URI, key string) (string, bool) {
	if contents, ok := s.fromFile(ctx, uri, key); ok {
		return contents, true
	}
	if contents, ok := s.fromGlobal(ctx, uri, key); ok {
		return contents, true
	}
	return s.fromWorkspace(ctx, uri, key)
}

func (s *Store) fromFile(ctx context.Context, uri models.URI, key string) (string, bool) {
	path := s.HashedPath(key)
	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("hotexit: read backup failed",
				slog.String("uri", uri.String()),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return "", false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("hotexit: corrupt backup ignored",
			slog.String("uri", uri.String()),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return "", false
	}
	if rec.Contents == "" || s.isStale(ctx, uri, rec.LastModifiedTimeMs) {
		return "", false
	}
	return rec.Contents, true
}

func (s *Store) fromGlobal(ctx context.Context, uri models.URI, key string) (string, bool) {
	raw, ok, err := s.global.Get(ctx, key)
	if err != nil {
		s.logger.Warn("hotexit: legacy global read failed",
			slog.String("uri", uri.String()), slog.String("error", err.Error()))
		return "", false
	}
	if !ok {
		return "", false
	}

	// Any hit means legacy data is still around; move it out before returning.
	if !s.migrated.Load() {
		if _, err := s.MigrateOnce(ctx); err != nil {
			s.logger.Warn("hotexit: legacy migration failed", slog.String("error", err.Error()))
		}
	}

	rec, valid := decodeLegacy(raw)
	if !valid || rec.Contents == "" || s.isStale(ctx, uri, rec.LastModifiedTimeMs) {
		return "", false
	}
	return rec.Contents, true
}

func (s *Store) fromWorkspace(ctx context.Context, uri models.URI, key string) (string, bool) {
	if uri.IsUntitled() {
		return "", false
	}
	// Take deletes the entry as it reads it so it can never be recovered twice.
	raw, ok, err := s.workspace.Take(ctx, key)
	if err != nil {
		s.logger.Warn("hotexit: legacy workspace read failed",
			slog.String("uri", uri.String()), slog.String("error", err.Error()))
		return "", false
	}
	if !ok {
		return "", false
	}
	rec, valid := decodeLegacy(raw)
	if !valid || rec.Contents == "" {
		return "", false
	}
	return rec.Contents, true
}

// isStale reports whether the real file changed after the backup was taken.
func (s *Store) isStale(ctx context.Context, uri models.URI, lastModifiedMs int64) bool {
	if lastModifiedMs <= 0 || !uri.IsFile() {
		return false
	}
	info, err := s.fs.Stat(ctx, uri.FilePath())
	if err != nil {
		// No file on disk: the backup is all there is.
		return false
	}
	return info.ModTime().UnixMilli() > lastModifiedMs
}

// decodeLegacy accepts both historical value shapes: a bare string (oldest)
// or a Record object.
func decodeLegacy(raw json.RawMessage) (Record, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Record{Contents: s}, true
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}
