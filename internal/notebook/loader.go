package notebook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/nbkeep/internal/codec"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/storage"
)

// Load opens the notebook named by uri. It never fails: on any error the
// failure is logged and a trusted notebook with one empty cell is returned.
func (s *Service) Load(ctx context.Context, uri models.URI, opts LoadOptions) *models.Notebook {
	p, err := s.loadParams(ctx, uri, opts)
	if err != nil {
		s.logger.Error("notebook: load failed, opening empty notebook",
			slog.String("uri", uri.String()),
			slog.String("error", err.Error()))
		return s.newModel(models.NotebookParams{
			URI:           uri,
			Trusted:       true,
			Indent:        codec.DefaultIndent,
			PythonVersion: s.pythonVersion,
		})
	}
	return s.newModel(p)
}

func (s *Service) loadParams(ctx context.Context, uri models.URI, opts LoadOptions) (models.NotebookParams, error) {
	if opts.Dirty.Skip() {
		// A deliberate clean load must not resurrect the old backup later.
		s.clearBackup(ctx, uri, opts.Dirty.Key(uri))
	}
	return s.readParams(ctx, uri, opts)
}

func (s *Service) clearBackup(ctx context.Context, uri models.URI, key string) {
	if err := s.backups.Submit(ctx, uri.String(), key, nil); err != nil {
		s.logger.Warn("notebook: clear backup failed",
			slog.String("uri", uri.String()),
			slog.String("error", err.Error()))
	}
}

// readParams assembles model fields from disk and, unless the policy skips
// it, from recovered dirty content. It has no side effects on backups.
func (s *Service) readParams(ctx context.Context, uri models.URI, opts LoadOptions) (models.NotebookParams, error) {
	onDisk := s.readOnDisk(ctx, uri, opts.PossibleContents)

	content, dirty := onDisk, false
	if !opts.Dirty.Skip() {
		if recovered, ok := s.dirty.ResolveDirtyContent(ctx, uri, opts.Dirty.Key(uri)); ok {
			content, dirty = []byte(recovered), true
		}
	}

	var doc *codec.Document
	if len(bytes.TrimSpace(content)) > 0 {
		parsed, err := codec.Parse(content)
		if err != nil {
			return models.NotebookParams{}, fmt.Errorf("notebook: parse %s: %w", uri, err)
		}
		doc = parsed
	}

	p := models.NotebookParams{
		URI:           uri,
		Dirty:         dirty,
		Indent:        codec.DefaultIndent,
		Language:      codec.Language(doc),
		KernelName:    codec.KernelName(doc),
		PythonVersion: s.pythonVersion,
	}
	if doc != nil {
		p.Cells = importCells(doc)
		p.Metadata = doc.Metadata
		p.NBFormat, p.NBFormatMinor = doc.NBFormat, doc.NBFormatMinor
		p.Indent = codec.DetectIndent(content)
		if v, ok := codec.PythonVersion(doc); ok {
			p.PythonVersion = v
		}
	}
	if len(p.Cells) == 0 {
		p.Cells = []models.Cell{models.NewEmptyCodeCell()}
	}
	p.Trusted = s.verify(ctx, uri, content, onDisk, dirty)

	s.logger.Debug("notebook: loaded",
		slog.String("uri", uri.String()),
		slog.Int("cells", len(p.Cells)),
		slog.Bool("dirty", dirty),
		slog.Bool("trusted", p.Trusted),
		slog.String("language", p.Language))
	return p, nil
}

// readOnDisk returns the last durably saved content: the caller-supplied text
// for documents without a file, the file bytes otherwise. A missing or
// unreadable file yields nil.
func (s *Service) readOnDisk(ctx context.Context, uri models.URI, possible *string) []byte {
	if uri.IsUntitled() || !uri.IsFile() {
		if possible == nil {
			return nil
		}
		return []byte(*possible)
	}
	data, err := s.fs.ReadFile(ctx, uri.FilePath())
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("notebook: read failed",
				slog.String("uri", uri.String()),
				slog.String("error", err.Error()))
		}
		return nil
	}
	return data
}

// verify decides the trust flag. Recovered dirty content is trusted iff the
// saved file content is; verifier errors count as untrusted.
func (s *Service) verify(ctx context.Context, uri models.URI, content, onDisk []byte, dirty bool) bool {
	if uri.IsUntitled() || len(content) == 0 {
		return true
	}
	subject := content
	if dirty && len(onDisk) > 0 {
		subject = onDisk
	}
	ok, err := s.trust.IsTrusted(ctx, uri, subject)
	if err != nil {
		s.logger.Warn("notebook: trust check failed, treating as untrusted",
			slog.String("uri", uri.String()),
			slog.String("error", err.Error()))
		return false
	}
	return ok
}

func importCells(doc *codec.Document) []models.Cell {
	cells := make([]models.Cell, len(doc.Cells))
	for i, data := range doc.Cells {
		cells[i] = models.Cell{
			ID:    models.ImportedCellID(i),
			State: models.CellFinished,
			Data:  data,
		}
	}
	return cells
}
