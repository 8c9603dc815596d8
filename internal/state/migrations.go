package state

import (
	"context"
	"fmt"
)

// MigrationApplied reports whether the named migration has been recorded.
// An absent row means the migration never ran.
func (db *DB) MigrationApplied(ctx context.Context, name string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM migrations WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("state: migration %s: %w", name, err)
	}
	return n > 0, nil
}

// MarkMigrationApplied records the named migration. Marking twice keeps the
// original timestamp.
func (db *DB) MarkMigrationApplied(ctx context.Context, name string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO migrations (name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("state: mark migration %s: %w", name, err)
	}
	return nil
}
