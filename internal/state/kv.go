package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Scope selects one of the key/value maps.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
)

// KV is a JSON-valued key/value map within one scope.
type KV struct {
	db    *DB
	scope Scope
}

// KV returns the key/value map for scope.
func (db *DB) KV(scope Scope) *KV {
	return &KV{db: db, scope: scope}
}

// Get returns the raw JSON value for key. ok is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var v string
	err := kv.db.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE scope = ? AND key = ?`, string(kv.scope), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: get %s/%s: %w", kv.scope, key, err)
	}
	return json.RawMessage(v), true, nil
}

// Set stores value (JSON-encoded) under key.
func (kv *KV) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s/%s: %w", kv.scope, key, err)
	}
	_, err = kv.db.conn.ExecContext(ctx, `
		INSERT INTO kv (scope, key, value) VALUES (?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value
	`, string(kv.scope), key, string(data))
	if err != nil {
		return fmt.Errorf("state: set %s/%s: %w", kv.scope, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	_, err := kv.db.conn.ExecContext(ctx,
		`DELETE FROM kv WHERE scope = ? AND key = ?`, string(kv.scope), key)
	if err != nil {
		return fmt.Errorf("state: delete %s/%s: %w", kv.scope, key, err)
	}
	return nil
}

// Take returns the value for key and deletes it in the same transaction, so
// an entry is handed out at most once.
func (kv *KV) Take(ctx context.Context, key string) (json.RawMessage, bool, error) {
	tx, err := kv.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var v string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE scope = ? AND key = ?`, string(kv.scope), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: take %s/%s: %w", kv.scope, key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE scope = ? AND key = ?`, string(kv.scope), key); err != nil {
		return nil, false, fmt.Errorf("state: take %s/%s: %w", kv.scope, key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("state: commit take: %w", err)
	}
	return json.RawMessage(v), true, nil
}

// Keys returns every key starting with prefix, in key order.
func (kv *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := kv.db.conn.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE scope = ? AND substr(key, 1, ?) = ?
		ORDER BY key
	`, string(kv.scope), len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("state: keys %s: %w", kv.scope, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
