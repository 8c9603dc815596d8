package state

import (
	"context"
	"fmt"
)

// HasTrustDigest reports whether digest was recorded as trusted.
func (db *DB) HasTrustDigest(ctx context.Context, digest string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM trusted_notebooks WHERE digest = ?`, digest).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("state: trust lookup: %w", err)
	}
	return n > 0, nil
}

// AddTrustDigest records digest as trusted; uri is kept for bookkeeping.
func (db *DB) AddTrustDigest(ctx context.Context, digest, uri string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO trusted_notebooks (digest, uri) VALUES (?, ?)
		ON CONFLICT(digest) DO UPDATE SET uri = excluded.uri, trusted_at = CURRENT_TIMESTAMP
	`, digest, uri)
	if err != nil {
		return fmt.Errorf("state: trust insert: %w", err)
	}
	return nil
}
