package hotexit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/nbkeep/internal/storage"
)

// Migrated reports whether the legacy sweep has run.
func (s *Store) Migrated() bool { return s.migrated.Load() }

// MigrateOnce moves every legacy global entry under StorageKeyPrefix into the
// backup directory and removes it from the global store. The persisted flag is
// set first. A backup file that already exists for a key wins over the legacy
// value. Safe to call repeatedly; it returns the number of removed entries.
func (s *Store) MigrateOnce(ctx context.Context) (int, error) {
	if err := s.migrations.MarkMigrationApplied(ctx, migrationName); err != nil {
		return 0, fmt.Errorf("hotexit: mark migration: %w", err)
	}
	s.migrated.Store(true)

	keys, err := s.global.Keys(ctx, StorageKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("hotexit: list legacy keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		raw, ok, err := s.global.Get(ctx, key)
		if err != nil {
			return removed, fmt.Errorf("hotexit: read legacy %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if rec, valid := decodeLegacy(raw); valid && rec.Contents != "" {
			if err := s.transfer(ctx, key, rec); err != nil {
				return removed, err
			}
		}
		if err := s.global.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("hotexit: remove legacy %s: %w", key, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("hotexit: migrated legacy entries", slog.Int("count", removed))
	}
	return removed, nil
}

func (s *Store) transfer(ctx context.Context, key string, rec Record) error {
	path := s.HashedPath(key)
	if _, err := s.fs.Stat(ctx, path); err == nil {
		return nil
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("hotexit: stat %s: %w", path, err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hotexit: encode legacy %s: %w", key, err)
	}
	if err := s.fs.MkdirAll(ctx, s.dir); err != nil {
		return fmt.Errorf("hotexit: create backup dir: %w", err)
	}
	if err := s.fs.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("hotexit: write migrated %s: %w", key, err)
	}
	return nil
}
