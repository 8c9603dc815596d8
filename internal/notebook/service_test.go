package notebook_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/notebook"
	"github.com/starford/nbkeep/internal/state"
	"github.com/starford/nbkeep/internal/testutil"
)

const sampleNotebook = `{
 "cells": [
  {"cell_type": "code", "execution_count": 1, "metadata": {}, "outputs": [], "source": ["print('hi')"]},
  {"cell_type": "markdown", "metadata": {}, "source": ["# Title"]}
 ],
 "metadata": {
  "kernelspec": {"name": "python3", "language": "python"},
  "language_info": {"name": "python", "codemirror_mode": {"name": "ipython", "version": 3}}
 },
 "nbformat": 4,
 "nbformat_minor": 2
}
`

// age pushes the file's mtime into the past so a fresh backup is never stale.
func age(t *testing.T, path string) {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
}

func edit(nb *models.Notebook, source string) {
	nb.SetCells([]models.Cell{{
		ID:    "edited",
		State: models.CellFinished,
		Data: map[string]any{
			"cell_type":       "code",
			"execution_count": nil,
			"metadata":        map[string]any{},
			"outputs":         []any{},
			"source":          []any{source},
		},
	}})
}

func cellData(t *testing.T, nb *models.Notebook) string {
	t.Helper()
	var data []map[string]any
	for _, c := range nb.Cells() {
		data = append(data, c.Data)
	}
	out, err := json.Marshal(data)
	require.NoError(t, err)
	return string(out)
}

func TestLoad_ImportsCells(t *testing.T) {
	s := testutil.NewStack(t, nil)
	uri := models.FileURI(s.WriteNotebook(t, "a.ipynb", sampleNotebook))

	nb := s.Service.Load(context.Background(), uri, notebook.LoadOptions{})
	cells := nb.Cells()
	require.Len(t, cells, 2)
	for i, c := range cells {
		assert.Equal(t, models.ImportedCellID(i), c.ID)
		assert.Equal(t, models.CellFinished, c.State)
		assert.Empty(t, c.File)
	}
	assert.False(t, nb.Dirty())
	assert.Equal(t, 1, nb.Indent().Width)
	assert.Equal(t, "python", nb.Language())
	assert.Equal(t, "python3", nb.KernelName())
	assert.Equal(t, 3, nb.PythonVersion())
}

func TestLoad_SaveLoadRoundTrip(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	uri := models.FileURI(s.WriteNotebook(t, "rt.ipynb", sampleNotebook))

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	edit(nb, "x = 42")
	require.True(t, nb.Dirty())
	require.NoError(t, s.Service.Save(ctx, nb))
	assert.False(t, nb.Dirty())

	again := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	assert.False(t, again.Dirty())
	assert.Equal(t, cellData(t, nb), cellData(t, again))
}

func TestLoad_EmptyCellListSynthesizesOneCell(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	uri := models.FileURI(s.WriteNotebook(t, "empty.ipynb", `{"cells": []}`))

	first := s.Service.Load(ctx, uri, notebook.LoadOptions{}).Cells()
	second := s.Service.Load(ctx, uri, notebook.LoadOptions{}).Cells()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, models.ImportedCellID(0), first[0].ID)
	assert.NotEqual(t, first[0].ID, second[0].ID, "synthesized ids are unique")
	assert.Equal(t, "code", first[0].Data["cell_type"])
}

func TestLoad_MalformedFallsBackToTrustedEmptyModel(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()

	for name, content := range map[string]string{
		"nocells.ipynb": `{"metadata": {}, "nbformat": 4}`,
		"broken.ipynb":  `{"cells": [`,
	} {
		uri := models.FileURI(s.WriteNotebook(t, name, content))
		nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
		assert.True(t, nb.Trusted(), name)
		assert.False(t, nb.Dirty(), name)
		assert.Len(t, nb.Cells(), 1, name)
		assert.Equal(t, uri, nb.URI(), name)
	}
}

func TestLoad_NullCellFallsBackToEmptyModel(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()

	for name, content := range map[string]string{
		"nullcell.ipynb":  `{"cells": [null]}`,
		"nullsheet.ipynb": `{"worksheets": [{"cells": [null]}]}`,
	} {
		uri := models.FileURI(s.WriteNotebook(t, name, content))
		var nb *models.Notebook
		require.NotPanics(t, func() { nb = s.Service.Load(ctx, uri, notebook.LoadOptions{}) }, name)
		assert.True(t, nb.Trusted(), name)
		assert.False(t, nb.Dirty(), name)
		require.Len(t, nb.Cells(), 1, name)
		assert.Equal(t, "code", nb.Cells()[0].Data["cell_type"], name)
	}
}

func TestLoad_MissingFileIsEmptyTrusted(t *testing.T) {
	s := testutil.NewStack(t, nil)
	uri := models.FileURI(filepath.Join(s.WorkDir, "nope.ipynb"))
	nb := s.Service.Load(context.Background(), uri, notebook.LoadOptions{})
	assert.True(t, nb.Trusted())
	assert.Len(t, nb.Cells(), 1)
}

func TestLoad_RecoversBackup(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "dirty.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	edit(nb, "unsaved")
	require.NoError(t, s.Service.Backup(ctx, nb, ""))

	again := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	assert.True(t, again.Dirty())
	assert.Equal(t, cellData(t, nb), cellData(t, again))
}

func TestLoad_StaleBackupIgnored(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "stale.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	edit(nb, "unsaved")
	require.NoError(t, s.Service.Backup(ctx, nb, ""))

	// Edited outside the editor after the backup was taken.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	again := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	assert.False(t, again.Dirty())
	assert.Len(t, again.Cells(), 2, "on-disk content wins")
}

func TestLoad_DirtyTrustFollowsSavedContent(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "trusted.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)
	require.NoError(t, s.Trust.Trust(ctx, uri, []byte(sampleNotebook)))

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	require.True(t, nb.Trusted())
	edit(nb, "unsaved and never verified")
	require.NoError(t, s.Service.Backup(ctx, nb, ""))

	again := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	assert.True(t, again.Dirty())
	assert.True(t, again.Trusted(), "backups inherit the saved file's trust")
}

func TestLoad_UntrustedFileStaysUntrusted(t *testing.T) {
	s := testutil.NewStack(t, nil)
	uri := models.FileURI(s.WriteNotebook(t, "u.ipynb", sampleNotebook))
	nb := s.Service.Load(context.Background(), uri, notebook.LoadOptions{})
	assert.False(t, nb.Trusted())
}

func TestLoad_SkipDirtyDeletesBackup(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "skip.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	edit(nb, "unsaved")
	require.NoError(t, s.Service.Backup(ctx, nb, ""))

	clean := s.Service.Load(ctx, uri, notebook.LoadOptions{Dirty: notebook.SkipDirty()})
	assert.False(t, clean.Dirty())
	assert.Len(t, clean.Cells(), 2)

	_, ok := s.Store.ResolveDirtyContent(ctx, uri, hotexit.StorageKey(uri))
	assert.False(t, ok, "skip-dirty load removes the backup")
}

func TestLoad_BackupIDPolicy(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "ids.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	id := s.Service.GenerateBackupID(nb)
	require.True(t, strings.HasPrefix(id, "ids.ipynb-"), id)
	_, err := uuid.Parse(strings.TrimPrefix(id, "ids.ipynb-"))
	require.NoError(t, err)
	assert.NotEqual(t, id, s.Service.GenerateBackupID(nb))

	edit(nb, "under explicit id")
	require.NoError(t, s.Service.Backup(ctx, nb, id))

	assert.False(t, s.Service.Load(ctx, uri, notebook.LoadOptions{}).Dirty(),
		"default key holds nothing")
	assert.True(t, s.Service.Load(ctx, uri, notebook.LoadOptions{Dirty: notebook.UseBackupID(id)}).Dirty())
}

func TestDeleteBackupThenQueryIsAbsent(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	uri := models.UntitledURI("Untitled-1.ipynb")
	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})

	require.NoError(t, s.Service.Backup(ctx, nb, ""))
	_, ok := s.Store.ResolveDirtyContent(ctx, uri, hotexit.StorageKey(uri))
	require.True(t, ok)

	require.NoError(t, s.Service.DeleteBackup(ctx, nb, ""))
	_, ok = s.Store.ResolveDirtyContent(ctx, uri, hotexit.StorageKey(uri))
	assert.False(t, ok)
}

func TestLoad_UntitledUsesSuppliedContent(t *testing.T) {
	s := testutil.NewStack(t, nil)
	content := sampleNotebook
	uri := models.UntitledURI("Untitled-1.ipynb")

	nb := s.Service.Load(context.Background(), uri, notebook.LoadOptions{PossibleContents: &content})
	assert.Len(t, nb.Cells(), 2)
	assert.True(t, nb.Trusted(), "untitled notebooks are trusted")
	assert.False(t, nb.Dirty())
}

func TestLoad_LegacyWorkspaceEntryRecoveredOnce(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "legacy.ipynb", sampleNotebook)
	uri := models.FileURI(path)
	require.NoError(t, s.DB.KV(state.ScopeWorkspace).Set(ctx, hotexit.StorageKey(uri), `{"cells": [{"cell_type": "raw", "source": "r"}]}`))

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	assert.True(t, nb.Dirty())
	require.Len(t, nb.Cells(), 1)
	assert.Equal(t, "raw", nb.Cells()[0].Data["cell_type"])

	assert.False(t, s.Service.Load(ctx, uri, notebook.LoadOptions{}).Dirty())
}

func TestLoad_PythonVersionDefaults(t *testing.T) {
	ctx := context.Background()
	plain := `{"cells": [], "metadata": {}}`

	s := testutil.NewStack(t, nil)
	uri := models.FileURI(s.WriteNotebook(t, "p.ipynb", plain))
	assert.Equal(t, 3, s.Service.Load(ctx, uri, notebook.LoadOptions{}).PythonVersion())

	configured := testutil.NewStack(t, func(o *notebook.Options) { o.PythonVersion = 2 })
	uri = models.FileURI(configured.WriteNotebook(t, "p.ipynb", plain))
	assert.Equal(t, 2, configured.Service.Load(ctx, uri, notebook.LoadOptions{}).PythonVersion())
}

type brokenVerifier struct{}

func (brokenVerifier) IsTrusted(context.Context, models.URI, []byte) (bool, error) {
	return false, errors.New("trust store unavailable")
}

func (brokenVerifier) Trust(context.Context, models.URI, []byte) error {
	return errors.New("trust store unavailable")
}

func TestLoad_VerifierFailureMeansUntrusted(t *testing.T) {
	s := testutil.NewStack(t, func(o *notebook.Options) { o.Trust = brokenVerifier{} })
	uri := models.FileURI(s.WriteNotebook(t, "v.ipynb", sampleNotebook))

	nb := s.Service.Load(context.Background(), uri, notebook.LoadOptions{})
	assert.False(t, nb.Trusted())
	assert.Len(t, nb.Cells(), 2, "a verifier failure does not fail the load")
}

func TestSave_TrustedContentIsRecorded(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "t.ipynb", sampleNotebook)
	uri := models.FileURI(path)
	require.NoError(t, s.Trust.Trust(ctx, uri, []byte(sampleNotebook)))

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	edit(nb, "trusted edit")
	require.NoError(t, s.Service.Save(ctx, nb))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	ok, err := s.Trust.IsTrusted(ctx, uri, saved)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSave_UntitledNeedsSaveAs(t *testing.T) {
	s := testutil.NewStack(t, nil)
	nb := s.Service.Load(context.Background(), models.UntitledURI("Untitled-1.ipynb"), notebook.LoadOptions{})
	err := s.Service.Save(context.Background(), nb)
	assert.ErrorIs(t, err, notebook.ErrNotSavable)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []notebook.SavedAsEvent
}

func (r *recordingObserver) NotebookSavedAs(_ context.Context, ev notebook.SavedAsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestSaveAs_RebindsAndNotifies(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	content := sampleNotebook
	old := models.UntitledURI("Untitled-1.ipynb")

	nb := s.Service.Load(ctx, old, notebook.LoadOptions{PossibleContents: &content})
	s.Registry.Put(nb)
	obs := &recordingObserver{}
	unsubscribe := s.Service.Subscribe(obs)
	defer unsubscribe()

	target := models.FileURI(filepath.Join(s.WorkDir, "sub", "saved.ipynb"))
	require.NoError(t, s.Service.SaveAs(ctx, nb, target))

	assert.Equal(t, target, nb.URI())
	assert.False(t, nb.Dirty())
	require.Len(t, obs.events, 1)
	assert.Equal(t, notebook.SavedAsEvent{Old: old, New: target}, obs.events[0])

	_, ok := s.Registry.Get(old)
	assert.False(t, ok)
	moved, ok := s.Registry.Get(target)
	require.True(t, ok)
	assert.Same(t, nb, moved)

	saved, err := os.ReadFile(target.FilePath())
	require.NoError(t, err)
	trusted, err := s.Trust.IsTrusted(ctx, target, saved)
	require.NoError(t, err)
	assert.True(t, trusted, "a trusted notebook stays trusted at its new location")
}

func TestRevert_DiscardsDirtyContent(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "rev.ipynb", sampleNotebook)
	age(t, path)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	original := cellData(t, nb)
	edit(nb, "to be discarded")
	require.NoError(t, s.Service.Backup(ctx, nb, ""))

	require.NoError(t, s.Service.Revert(ctx, nb))
	assert.False(t, nb.Dirty())
	assert.Equal(t, original, cellData(t, nb))

	_, ok := s.Store.ResolveDirtyContent(ctx, uri, hotexit.StorageKey(uri))
	assert.False(t, ok)
}

func TestRevert_MalformedFileReportsError(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "bad.ipynb", sampleNotebook)
	uri := models.FileURI(path)
	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})

	require.NoError(t, os.WriteFile(path, []byte(`{"no": "cells"}`), 0o644))
	assert.Error(t, s.Service.Revert(ctx, nb))
	assert.Len(t, nb.Cells(), 2, "a failed revert leaves the model untouched")
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := notebook.NewService(notebook.Options{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := notebook.NewRegistry()
	nb := models.NewNotebook(models.NotebookParams{URI: models.FileURI("/r.ipynb")})
	reg.Put(nb)
	assert.Equal(t, 1, reg.Len())
	got, ok := reg.Get(models.FileURI("/r.ipynb"))
	require.True(t, ok)
	assert.Same(t, nb, got)
	assert.True(t, reg.Close(models.FileURI("/r.ipynb")))
	assert.False(t, reg.Close(models.FileURI("/r.ipynb")))
	assert.Zero(t, reg.Len())
}

func TestTrust_RecordsCurrentContent(t *testing.T) {
	s := testutil.NewStack(t, nil)
	ctx := context.Background()
	path := s.WriteNotebook(t, "trustme.ipynb", sampleNotebook)
	uri := models.FileURI(path)

	nb := s.Service.Load(ctx, uri, notebook.LoadOptions{})
	require.False(t, nb.Trusted())
	require.NoError(t, s.Service.Trust(ctx, nb))
	assert.True(t, nb.Trusted())

	// Unchanged content round-trips byte for byte, so a fresh load is trusted.
	require.NoError(t, s.Service.Save(ctx, nb))
	assert.True(t, s.Service.Load(ctx, uri, notebook.LoadOptions{}).Trusted())
}
