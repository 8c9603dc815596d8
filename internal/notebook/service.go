// Package notebook implements loading, saving, backing up and reverting
// notebook models on top of the content codec, the hot-exit tiers, the
// backup coordinator and the trust verifier.
package notebook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/storage"
	"github.com/starford/nbkeep/internal/trust"
)

// ErrNotSavable is returned when saving a notebook that has no file on disk.
var ErrNotSavable = errors.New("notebook has no file identity")

// defaultPythonVersion applies when neither the notebook nor the
// configuration names one.
const defaultPythonVersion = 3

// DirtyStore resolves and stamps hot-exit content; *hotexit.Store satisfies it.
type DirtyStore interface {
	ResolveDirtyContent(ctx context.Context, uri models.URI, key string) (string, bool)
	Capture(contents string) *hotexit.Record
}

// BackupSubmitter queues backup writes and deletes; *backup.Coordinator
// satisfies it.
type BackupSubmitter interface {
	Submit(ctx context.Context, doc, key string, rec *hotexit.Record) error
}

// ModelFactory builds a model from loader-assembled fields.
type ModelFactory func(models.NotebookParams) *models.Notebook

// Options configures a Service.
type Options struct {
	FS      storage.FileSystem
	Dirty   DirtyStore
	Backups BackupSubmitter
	Trust   trust.Verifier
	Logger  *slog.Logger
	// PythonVersion is the configured interpreter's major version; 0 means
	// unknown.
	PythonVersion int
	NewModel      ModelFactory
}

// Service coordinates notebook persistence.
type Service struct {
	fs            storage.FileSystem
	dirty         DirtyStore
	backups       BackupSubmitter
	trust         trust.Verifier
	logger        *slog.Logger
	pythonVersion int
	newModel      ModelFactory

	observers observers
}

// NewService creates a notebook persistence service.
func NewService(opts Options) (*Service, error) {
	if opts.FS == nil || opts.Dirty == nil || opts.Backups == nil || opts.Trust == nil {
		return nil, fmt.Errorf("notebook: file system, dirty store, backups and trust verifier are required")
	}
	s := &Service{
		fs:            opts.FS,
		dirty:         opts.Dirty,
		backups:       opts.Backups,
		trust:         opts.Trust,
		logger:        opts.Logger,
		pythonVersion: opts.PythonVersion,
		newModel:      opts.NewModel,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.pythonVersion <= 0 {
		s.pythonVersion = defaultPythonVersion
	}
	if s.newModel == nil {
		s.newModel = models.NewNotebook
	}
	return s, nil
}

// Subscribe registers o for notifications and returns its unsubscribe func.
func (s *Service) Subscribe(o Observer) func() {
	return s.observers.add(o)
}

// Save writes nb to its file. Trusted content is recorded as trusted.
func (s *Service) Save(ctx context.Context, nb *models.Notebook) error {
	uri := nb.URI()
	if err := s.write(ctx, nb, uri); err != nil {
		return err
	}
	nb.MarkSaved()
	return nil
}

// SaveAs writes nb to target, rebinds the model and notifies observers.
func (s *Service) SaveAs(ctx context.Context, nb *models.Notebook, target models.URI) error {
	old := nb.URI()
	if err := s.write(ctx, nb, target); err != nil {
		return err
	}
	nb.Rebind(target)
	nb.MarkSaved()
	s.logger.Info("notebook: saved as",
		slog.String("old", old.String()),
		slog.String("new", target.String()))
	s.observers.savedAs(ctx, SavedAsEvent{Old: old, New: target})
	return nil
}

func (s *Service) write(ctx context.Context, nb *models.Notebook, target models.URI) error {
	if !target.IsFile() {
		return fmt.Errorf("notebook: save %s: %w", target, ErrNotSavable)
	}
	content, err := nb.Content()
	if err != nil {
		return fmt.Errorf("notebook: serialize %s: %w", nb.URI(), err)
	}
	path := target.FilePath()
	if err := s.fs.MkdirAll(ctx, filepath.Dir(path)); err != nil {
		return fmt.Errorf("notebook: save %s: %w", target, err)
	}
	if err := s.fs.WriteFile(ctx, path, content); err != nil {
		return fmt.Errorf("notebook: save %s: %w", target, err)
	}
	if nb.Trusted() {
		if err := s.trust.Trust(ctx, target, content); err != nil {
			return fmt.Errorf("notebook: trust %s: %w", target, err)
		}
	}
	return nil
}

// Backup stores nb's current content as hot-exit data under backupID, or
// under the default key when backupID is empty.
func (s *Service) Backup(ctx context.Context, nb *models.Notebook, backupID string) error {
	uri := nb.URI()
	content, err := nb.Content()
	if err != nil {
		return fmt.Errorf("notebook: serialize %s: %w", uri, err)
	}
	return s.backups.Submit(ctx, uri.String(), s.backupKey(uri, backupID), s.dirty.Capture(string(content)))
}

// DeleteBackup removes the hot-exit data stored under backupID, or under the
// default key when backupID is empty.
func (s *Service) DeleteBackup(ctx context.Context, nb *models.Notebook, backupID string) error {
	uri := nb.URI()
	return s.backups.Submit(ctx, uri.String(), s.backupKey(uri, backupID), nil)
}

// GenerateBackupID returns a fresh "<basename>-<uuid>" backup id.
func (s *Service) GenerateBackupID(nb *models.Notebook) string {
	return fmt.Sprintf("%s-%s", nb.URI().Base(), uuid.NewString())
}

// Revert reloads nb from disk, discarding dirty content and its backup.
func (s *Service) Revert(ctx context.Context, nb *models.Notebook) error {
	uri := nb.URI()
	p, err := s.loadParams(ctx, uri, LoadOptions{Dirty: SkipDirty()})
	if err != nil {
		return fmt.Errorf("notebook: revert %s: %w", uri, err)
	}
	nb.Replace(p)
	return nil
}

// Reload re-reads a clean nb from disk after an external change. The model is
// left alone if it was edited while the file was being read, and the backup is
// only cleared once the new content is in place. It reports whether nb was
// replaced.
func (s *Service) Reload(ctx context.Context, nb *models.Notebook) (bool, error) {
	uri := nb.URI()
	rev := nb.Revision()
	if nb.Dirty() {
		return false, nil
	}
	policy := SkipDirty()
	p, err := s.readParams(ctx, uri, LoadOptions{Dirty: policy})
	if err != nil {
		return false, fmt.Errorf("notebook: reload %s: %w", uri, err)
	}
	if !nb.ReplaceIfUnchanged(rev, p) {
		s.logger.Debug("notebook: reload skipped, edited meanwhile", slog.String("uri", uri.String()))
		return false, nil
	}
	s.clearBackup(ctx, uri, policy.Key(uri))
	return true, nil
}

func (s *Service) backupKey(uri models.URI, backupID string) string {
	return UseBackupID(backupID).Key(uri)
}

// Trust marks nb trusted and records its current content as trusted.
func (s *Service) Trust(ctx context.Context, nb *models.Notebook) error {
	uri := nb.URI()
	content, err := nb.Content()
	if err != nil {
		return fmt.Errorf("notebook: serialize %s: %w", uri, err)
	}
	if err := s.trust.Trust(ctx, uri, content); err != nil {
		return fmt.Errorf("notebook: trust %s: %w", uri, err)
	}
	nb.Trust()
	s.logger.Info("notebook: trusted", slog.String("uri", uri.String()))
	return nil
}

// InSync reports whether nb's serialized content equals its file on disk.
// Documents without a file are always in sync.
func (s *Service) InSync(ctx context.Context, nb *models.Notebook) bool {
	uri := nb.URI()
	if !uri.IsFile() {
		return true
	}
	onDisk, err := s.fs.ReadFile(ctx, uri.FilePath())
	if err != nil {
		return false
	}
	content, err := nb.Content()
	if err != nil {
		return false
	}
	return bytes.Equal(onDisk, content)
}
