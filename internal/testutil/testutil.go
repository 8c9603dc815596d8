// Package testutil provides shared test helpers for wiring the persistence
// stack against temporary directories and databases.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/nbkeep/internal/backup"
	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/notebook"
	"github.com/starford/nbkeep/internal/state"
	"github.com/starford/nbkeep/internal/storage"
	"github.com/starford/nbkeep/internal/trust"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestDB creates a temporary SQLite state database that is automatically cleaned up.
func TestDB(t *testing.T) *state.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "nbkeep-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := state.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Stack is a fully wired persistence stack.
type Stack struct {
	DB       *state.DB
	FS       storage.FileSystem
	Store    *hotexit.Store
	Backups  *backup.Coordinator
	Trust    *trust.Store
	Service  *notebook.Service
	Registry *notebook.Registry
	// WorkDir holds notebooks; the hot-exit directory lives elsewhere.
	WorkDir string
}

// NewStack wires a stack on temp dirs. mutate, if non-nil, may adjust the
// service options before the service is built.
func NewStack(t *testing.T, mutate func(*notebook.Options)) *Stack {
	t.Helper()
	ctx := context.Background()
	logger := Logger()

	db := TestDB(t)
	fsys := storage.NewOS()
	store, err := hotexit.New(ctx, hotexit.Options{
		Dir:        filepath.Join(t.TempDir(), "globalStorage"),
		FS:         fsys,
		Global:     db.KV(state.ScopeGlobal),
		Workspace:  db.KV(state.ScopeWorkspace),
		Migrations: db,
		Logger:     logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	coord := backup.NewCoordinator(store, logger, nil)
	t.Cleanup(coord.Wait)
	verifier := trust.NewStore(db)

	opts := notebook.Options{
		FS:      fsys,
		Dirty:   store,
		Backups: coord,
		Trust:   verifier,
		Logger:  logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := notebook.NewService(opts)
	if err != nil {
		t.Fatal(err)
	}
	reg := notebook.NewRegistry()
	svc.Subscribe(reg)

	return &Stack{
		DB:       db,
		FS:       fsys,
		Store:    store,
		Backups:  coord,
		Trust:    verifier,
		Service:  svc,
		Registry: reg,
		WorkDir:  t.TempDir(),
	}
}

// WriteNotebook writes content to name under WorkDir and returns its path.
func (s *Stack) WriteNotebook(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(s.WorkDir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
