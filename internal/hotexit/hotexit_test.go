package hotexit

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/state"
	"github.com/starford/nbkeep/internal/storage"
)

type env struct {
	store   *Store
	db      *state.DB
	dir     string
	workDir string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openDB(t *testing.T) *state.DB {
	t.Helper()
	f, err := os.CreateTemp("", "nbkeep-hotexit-*.db")
	require.NoError(t, err)
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	db, err := state.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newEnv(t *testing.T, fsys storage.FileSystem, db *state.DB) *env {
	t.Helper()
	if db == nil {
		db = openDB(t)
	}
	if fsys == nil {
		fsys = storage.NewOS()
	}
	dir := filepath.Join(t.TempDir(), "globalStorage")
	s, err := New(context.Background(), Options{
		Dir:        dir,
		FS:         fsys,
		Global:     db.KV(state.ScopeGlobal),
		Workspace:  db.KV(state.ScopeWorkspace),
		Migrations: db,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return &env{store: s, db: db, dir: dir, workDir: t.TempDir()}
}

func (e *env) notebook(t *testing.T, name string, mtime time.Time) models.URI {
	t.Helper()
	p := filepath.Join(e.workDir, name)
	require.NoError(t, os.WriteFile(p, []byte(`{"cells": []}`), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return models.FileURI(p)
}

func TestNew_Validation(t *testing.T) {
	db := openDB(t)
	_, err := New(context.Background(), Options{Dir: "relative", FS: storage.NewOS(),
		Global: db.KV(state.ScopeGlobal), Workspace: db.KV(state.ScopeWorkspace), Migrations: db})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestHashedPath(t *testing.T) {
	e := newEnv(t, nil, nil)
	p := e.store.HashedPath("notebook-storage-file:///a.ipynb")
	assert.Equal(t, e.dir, filepath.Dir(p))
	assert.Equal(t, ".ipynb", filepath.Ext(p))
	assert.Equal(t, p, e.store.HashedPath("notebook-storage-file:///a.ipynb"), "hash must be deterministic")
	assert.NotEqual(t, p, e.store.HashedPath("notebook-storage-file:///b.ipynb"))
	assert.Equal(t, "notebook-storage-file:///a.ipynb", StorageKey(models.FileURI("/a.ipynb")))
}

func TestWriteAndResolve(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := e.notebook(t, "a.ipynb", time.Now().Add(-time.Hour))
	key := StorageKey(uri)

	require.NoError(t, e.store.Write(ctx, key, e.store.Capture("dirty")))

	data, err := os.ReadFile(e.store.HashedPath(key))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "dirty", rec.Contents)
	assert.Positive(t, rec.LastModifiedTimeMs)

	got, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	require.True(t, ok)
	assert.Equal(t, "dirty", got)
}

func TestDeleteThenResolveIsAbsent(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := models.UntitledURI("Untitled-1.ipynb")
	key := "Untitled-1.ipynb-1234"

	require.NoError(t, e.store.Write(ctx, key, e.store.Capture("x")))
	require.NoError(t, e.store.Write(ctx, key, nil))
	require.NoError(t, e.store.Write(ctx, key, nil), "deleting a missing backup is success")

	_, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	assert.False(t, ok)
}

func TestWrite_CancelledDoesNoIO(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.store.Write(ctx, "k", e.store.Capture("x")))
	_, err := os.Stat(e.dir)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "cancelled write must not create the directory")
}

// cancellingFS cancels the write's context once the directory exists.
type cancellingFS struct {
	storage.FileSystem
	cancel context.CancelFunc
}

func (c cancellingFS) MkdirAll(ctx context.Context, dir string) error {
	err := c.FileSystem.MkdirAll(ctx, dir)
	c.cancel()
	return err
}

func TestWrite_CancelledAfterMkdirSkipsWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, cancellingFS{FileSystem: storage.NewOS(), cancel: cancel}, nil)

	require.NoError(t, e.store.Write(ctx, "k", e.store.Capture("x")))
	_, err := os.Stat(e.dir)
	require.NoError(t, err, "the directory was created before cancellation")
	_, err = os.Stat(e.store.HashedPath("k"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "cancelled write must not create the backup file")
}

func TestResolve_StaleBackupIgnored(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	taken := time.Now().Add(-time.Hour)
	key := "stale-key"

	uri := e.notebook(t, "stale.ipynb", taken.Add(time.Minute))
	require.NoError(t, e.store.Write(ctx, key, &Record{Contents: "old", LastModifiedTimeMs: taken.UnixMilli()}))
	_, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	assert.False(t, ok, "file modified after backup: on-disk content wins")

	fresh := e.notebook(t, "fresh.ipynb", taken.Add(-time.Minute))
	got, ok := e.store.ResolveDirtyContent(ctx, fresh, key)
	assert.True(t, ok)
	assert.Equal(t, "old", got)
}

func TestResolve_MissingFileIsNotStale(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := models.FileURI(filepath.Join(e.workDir, "never-saved.ipynb"))
	require.NoError(t, e.store.Write(ctx, "k", &Record{Contents: "c", LastModifiedTimeMs: 1}))

	got, ok := e.store.ResolveDirtyContent(ctx, uri, "k")
	assert.True(t, ok)
	assert.Equal(t, "c", got)
}

func TestResolve_CorruptBackupIgnored(t *testing.T) {
	e := newEnv(t, nil, nil)
	require.NoError(t, os.MkdirAll(e.dir, 0o755))
	require.NoError(t, os.WriteFile(e.store.HashedPath("k"), []byte("{not json"), 0o644))

	_, ok := e.store.ResolveDirtyContent(context.Background(), models.UntitledURI("Untitled-1.ipynb"), "k")
	assert.False(t, ok)
}

type failingReadFS struct {
	storage.FileSystem
}

func (failingReadFS) ReadFile(context.Context, string) ([]byte, error) {
	return nil, fs.ErrPermission
}

func TestResolve_ReadFailureDegradesToAbsent(t *testing.T) {
	e := newEnv(t, failingReadFS{storage.NewOS()}, nil)
	_, ok := e.store.ResolveDirtyContent(context.Background(), models.UntitledURI("Untitled-1.ipynb"), "k")
	assert.False(t, ok)
}

func TestResolve_FileTierWinsOverLegacy(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := models.UntitledURI("Untitled-2.ipynb")
	key := StorageKey(uri)

	require.NoError(t, e.db.KV(state.ScopeGlobal).Set(ctx, key, "legacy"))
	require.NoError(t, e.store.Write(ctx, key, e.store.Capture("primary")))

	got, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	require.True(t, ok)
	assert.Equal(t, "primary", got)
}

func TestResolve_GlobalTierTriggersMigration(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := e.notebook(t, "g.ipynb", time.Now().Add(-time.Hour))
	key := StorageKey(uri)
	other := StorageKeyPrefix + "file:///other.ipynb"

	global := e.db.KV(state.ScopeGlobal)
	require.NoError(t, global.Set(ctx, key, Record{Contents: "from-global", LastModifiedTimeMs: time.Now().UnixMilli()}))
	require.NoError(t, global.Set(ctx, other, "oldest-format"))
	require.False(t, e.store.Migrated())

	got, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	require.True(t, ok)
	assert.Equal(t, "from-global", got)

	assert.True(t, e.store.Migrated())
	applied, err := e.db.MigrationApplied(ctx, migrationName)
	require.NoError(t, err)
	assert.True(t, applied)

	keys, err := global.Keys(ctx, StorageKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys, "legacy entries should be swept")

	// Migrated entries now live in the backup directory.
	got, ok = e.store.ResolveDirtyContent(ctx, models.FileURI("/other.ipynb"), other)
	require.True(t, ok)
	assert.Equal(t, "oldest-format", got)
}

func TestResolve_GlobalTierStale(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	taken := time.Now().Add(-time.Hour)
	uri := e.notebook(t, "gs.ipynb", time.Now())
	key := StorageKey(uri)
	require.NoError(t, e.db.KV(state.ScopeGlobal).Set(ctx, key, Record{Contents: "old", LastModifiedTimeMs: taken.UnixMilli()}))

	_, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	assert.False(t, ok)
}

func TestResolve_WorkspaceTierConsumedOnce(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := models.FileURI("/w.ipynb")
	key := StorageKey(uri)
	require.NoError(t, e.db.KV(state.ScopeWorkspace).Set(ctx, key, "from-workspace"))

	got, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	require.True(t, ok)
	assert.Equal(t, "from-workspace", got)

	_, ok = e.store.ResolveDirtyContent(ctx, uri, key)
	assert.False(t, ok, "workspace entries are consumed on read")
}

func TestResolve_WorkspaceTierSkipsUntitled(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	uri := models.UntitledURI("Untitled-1.ipynb")
	key := StorageKey(uri)
	require.NoError(t, e.db.KV(state.ScopeWorkspace).Set(ctx, key, "x"))

	_, ok := e.store.ResolveDirtyContent(ctx, uri, key)
	assert.False(t, ok)
	_, still, _ := e.db.KV(state.ScopeWorkspace).Get(ctx, key)
	assert.True(t, still, "untitled lookups must not consume the entry")
}

func TestMigrateOnce_Idempotent(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	global := e.db.KV(state.ScopeGlobal)
	require.NoError(t, global.Set(ctx, StorageKeyPrefix+"a", "A"))
	require.NoError(t, global.Set(ctx, StorageKeyPrefix+"b", Record{Contents: "B", LastModifiedTimeMs: 7}))
	require.NoError(t, global.Set(ctx, "unrelated", "keep"))

	// An existing backup file wins over the legacy value.
	require.NoError(t, e.store.Write(ctx, StorageKeyPrefix+"b", &Record{Contents: "newer", LastModifiedTimeMs: 9}))

	n, err := e.store.MigrateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.store.MigrateOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second run is a no-op")

	applied, err := e.db.MigrationApplied(ctx, migrationName)
	require.NoError(t, err)
	assert.True(t, applied)

	_, ok, _ := global.Get(ctx, "unrelated")
	assert.True(t, ok, "keys outside the prefix are untouched")

	data, err := os.ReadFile(e.store.HashedPath(StorageKeyPrefix + "b"))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "newer", rec.Contents)
}

func TestNew_ReadsPersistedFlag(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.MarkMigrationApplied(context.Background(), migrationName))
	e := newEnv(t, nil, db)
	assert.True(t, e.store.Migrated())
}
