// Package session manages the notebooks open in host editor sessions and
// exposes the persistence operations by identity, for the HTTP API and the
// MCP tools.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/nbkeep/internal/apperr"
	"github.com/starford/nbkeep/internal/checksum"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/notebook"
)

// Detail is the full representation of an open notebook.
type Detail struct {
	URI           string         `json:"uri"`
	Cells         []models.Cell  `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	Trusted       bool           `json:"trusted"`
	Dirty         bool           `json:"dirty"`
	Untitled      bool           `json:"untitled"`
	Language      string         `json:"language,omitempty"`
	KernelName    string         `json:"kernel_name,omitempty"`
	PythonVersion int            `json:"python_version"`
	Indent        string         `json:"indent"`
	Checksum      string         `json:"checksum"`
}

// Activity receives backup writes and removals; *sse.Broker satisfies it.
type Activity interface {
	PublishBackupActivity(uri models.URI, op string)
}

// OpenRequest describes how a notebook is opened.
type OpenRequest struct {
	URI models.URI
	// Content is the host-held text for documents without a file.
	Content   *string
	SkipDirty bool
	BackupID  string
}

// Service coordinates the notebook service and the session registry.
type Service struct {
	notebooks *notebook.Service
	registry  *notebook.Registry
	activity  Activity
	logger    *slog.Logger
}

// NewService creates a session service. activity may be nil.
func NewService(notebooks *notebook.Service, registry *notebook.Registry, activity Activity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{notebooks: notebooks, registry: registry, activity: activity, logger: logger}
}

// Open loads a notebook into a session. An already open notebook is
// returned as is unless the request skips dirty content, which reloads it.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Detail, error) {
	if nb, ok := s.registry.Get(req.URI); ok && !req.SkipDirty {
		return buildDetail(nb)
	}
	opts := notebook.LoadOptions{PossibleContents: req.Content, Dirty: notebook.UseBackupID(req.BackupID)}
	if req.SkipDirty {
		opts.Dirty = notebook.SkipDirty()
	}
	nb := s.notebooks.Load(ctx, req.URI, opts)
	s.registry.Put(nb)
	return buildDetail(nb)
}

// Get returns the open notebook for uri.
func (s *Service) Get(_ context.Context, uri models.URI) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	return buildDetail(nb)
}

// SetCells replaces the cells of an open notebook, marking it dirty.
func (s *Service) SetCells(_ context.Context, uri models.URI, cells []models.Cell) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	nb.SetCells(cells)
	return buildDetail(nb)
}

// Save writes an open notebook to its file.
func (s *Service) Save(ctx context.Context, uri models.URI) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	if err := s.notebooks.Save(ctx, nb); err != nil {
		return nil, err
	}
	return buildDetail(nb)
}

// SaveAs writes an open notebook to target and moves its session there.
// Saving onto another open notebook is a conflict.
func (s *Service) SaveAs(ctx context.Context, uri, target models.URI) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	if other, open := s.registry.Get(target); open && other != nb {
		return nil, fmt.Errorf("session: save as %s: target is open: %w", target, apperr.ErrConflict)
	}
	if err := s.notebooks.SaveAs(ctx, nb, target); err != nil {
		return nil, err
	}
	return buildDetail(nb)
}

// Revert reloads an open notebook from disk.
func (s *Service) Revert(ctx context.Context, uri models.URI) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	if err := s.notebooks.Revert(ctx, nb); err != nil {
		return nil, err
	}
	return buildDetail(nb)
}

// Trust marks an open notebook trusted.
func (s *Service) Trust(ctx context.Context, uri models.URI) (*Detail, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return nil, err
	}
	if err := s.notebooks.Trust(ctx, nb); err != nil {
		return nil, err
	}
	return buildDetail(nb)
}

// Backup stores the open notebook's content as hot-exit data.
func (s *Service) Backup(ctx context.Context, uri models.URI, backupID string) error {
	nb, err := s.lookup(uri)
	if err != nil {
		return err
	}
	if err := s.notebooks.Backup(ctx, nb, backupID); err != nil {
		return err
	}
	s.publish(uri, "backup")
	return nil
}

// DeleteBackup removes hot-exit data of an open notebook.
func (s *Service) DeleteBackup(ctx context.Context, uri models.URI, backupID string) error {
	nb, err := s.lookup(uri)
	if err != nil {
		return err
	}
	if err := s.notebooks.DeleteBackup(ctx, nb, backupID); err != nil {
		return err
	}
	s.publish(uri, "delete")
	return nil
}

// GenerateBackupID returns a fresh backup id for an open notebook.
func (s *Service) GenerateBackupID(_ context.Context, uri models.URI) (string, error) {
	nb, err := s.lookup(uri)
	if err != nil {
		return "", err
	}
	return s.notebooks.GenerateBackupID(nb), nil
}

// Close ends the session for uri.
func (s *Service) Close(_ context.Context, uri models.URI) error {
	if !s.registry.Close(uri) {
		return fmt.Errorf("session: close %s: %w", uri, apperr.ErrNotOpen)
	}
	return nil
}

// FileChanged reacts to a change of a notebook file made outside the
// session: a clean open session whose content differs from the file is
// reloaded. It reports whether a reload happened.
func (s *Service) FileChanged(ctx context.Context, uri models.URI) bool {
	nb, ok := s.registry.Get(uri)
	if !ok || nb.Dirty() || s.notebooks.InSync(ctx, nb) {
		return false
	}
	reloaded, err := s.notebooks.Reload(ctx, nb)
	if err != nil {
		s.logger.Warn("session: reload after external change failed",
			slog.String("uri", uri.String()),
			slog.String("error", err.Error()))
		return false
	}
	if reloaded {
		s.logger.Debug("session: reloaded after external change", slog.String("uri", uri.String()))
	}
	return reloaded
}

func (s *Service) lookup(uri models.URI) (*models.Notebook, error) {
	nb, ok := s.registry.Get(uri)
	if !ok {
		return nil, fmt.Errorf("session: %s: %w", uri, apperr.ErrNotOpen)
	}
	return nb, nil
}

func (s *Service) publish(uri models.URI, op string) {
	if s.activity != nil {
		s.activity.PublishBackupActivity(uri, op)
	}
}

func buildDetail(nb *models.Notebook) (*Detail, error) {
	content, err := nb.Content()
	if err != nil {
		return nil, fmt.Errorf("session: serialize %s: %w", nb.URI(), err)
	}
	uri := nb.URI()
	return &Detail{
		URI:           uri.String(),
		Cells:         nb.Cells(),
		Metadata:      nonNilMap(nb.Metadata()),
		Trusted:       nb.Trusted(),
		Dirty:         nb.Dirty(),
		Untitled:      uri.IsUntitled(),
		Language:      nb.Language(),
		KernelName:    nb.KernelName(),
		PythonVersion: nb.PythonVersion(),
		Indent:        nb.Indent().String(),
		Checksum:      checksum.Sum(content),
	}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
