package api

import (
	"context"
	"net/http"

	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc *session.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *session.Service) *Handler {
	return &Handler{svc: svc}
}

// parseURI parses a document identity, writing a 400 on failure.
func parseURI(w http.ResponseWriter, raw string) (models.URI, bool) {
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("uri is required"))
		return models.URI{}, false
	}
	uri, err := models.ParseURI(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid uri"))
		return models.URI{}, false
	}
	return uri, true
}

// refAction decodes a NotebookRef body and runs fn on its identity.
func (h *Handler) refAction(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, uri models.URI) (*session.Detail, error),
) {
	var req NotebookRef
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	d, err := fn(r.Context(), uri)
	if err != nil {
		writeError(w, op, uri, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// OpenNotebook handles POST /api/notebooks/open.
//
//	@Summary		Open a notebook, recovering unsaved content when present
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenNotebookRequest	true	"Notebook to open"
//	@Success		200		{object}	NotebookDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/open [post]
func (h *Handler) OpenNotebook(w http.ResponseWriter, r *http.Request) {
	var req OpenNotebookRequest
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	d, err := h.svc.Open(r.Context(), session.OpenRequest{
		URI:       uri,
		Content:   req.Content,
		SkipDirty: req.SkipDirty,
		BackupID:  req.BackupID,
	})
	if err != nil {
		writeError(w, "open notebook", uri, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetNotebook handles GET /api/notebooks?uri=.
//
//	@Summary		Get an open notebook
//	@Tags			notebooks
//	@Produce		json
//	@Param			uri	query		string	true	"Notebook identity"
//	@Success		200	{object}	NotebookDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks [get]
func (h *Handler) GetNotebook(w http.ResponseWriter, r *http.Request) {
	uri, ok := parseURI(w, r.URL.Query().Get("uri"))
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), uri)
	if err != nil {
		writeError(w, "get notebook", uri, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SetCells handles PUT /api/notebooks/cells.
//
//	@Summary		Replace the cells of an open notebook
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SetCellsRequest	true	"New cells"
//	@Success		200		{object}	NotebookDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/cells [put]
func (h *Handler) SetCells(w http.ResponseWriter, r *http.Request) {
	var req SetCellsRequest
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	d, err := h.svc.SetCells(r.Context(), uri, req.Cells)
	if err != nil {
		writeError(w, "set cells", uri, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SaveNotebook handles POST /api/notebooks/save.
//
//	@Summary		Save an open notebook to its file
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRef	true	"Notebook"
//	@Success		200		{object}	NotebookDetail
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/save [post]
func (h *Handler) SaveNotebook(w http.ResponseWriter, r *http.Request) {
	h.refAction(w, r, "save notebook", h.svc.Save)
}

// SaveNotebookAs handles POST /api/notebooks/save-as.
//
//	@Summary		Save an open notebook under a new identity
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveAsRequest	true	"Source and target"
//	@Success		200		{object}	NotebookDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/save-as [post]
func (h *Handler) SaveNotebookAs(w http.ResponseWriter, r *http.Request) {
	var req SaveAsRequest
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	target, ok := parseURI(w, req.Target)
	if !ok {
		return
	}
	d, err := h.svc.SaveAs(r.Context(), uri, target)
	if err != nil {
		writeError(w, "save notebook as", uri, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RevertNotebook handles POST /api/notebooks/revert.
//
//	@Summary		Discard unsaved changes and reload from disk
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRef	true	"Notebook"
//	@Success		200		{object}	NotebookDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/revert [post]
func (h *Handler) RevertNotebook(w http.ResponseWriter, r *http.Request) {
	h.refAction(w, r, "revert notebook", h.svc.Revert)
}

// TrustNotebook handles POST /api/notebooks/trust.
//
//	@Summary		Trust the current content of an open notebook
//	@Tags			notebooks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRef	true	"Notebook"
//	@Success		200		{object}	NotebookDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/trust [post]
func (h *Handler) TrustNotebook(w http.ResponseWriter, r *http.Request) {
	h.refAction(w, r, "trust notebook", h.svc.Trust)
}

// CloseNotebook handles POST /api/notebooks/close.
//
//	@Summary		Close an editor session
//	@Tags			notebooks
//	@Accept			json
//	@Param			body	body	NotebookRef	true	"Notebook"
//	@Success		204		"Session closed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/close [post]
func (h *Handler) CloseNotebook(w http.ResponseWriter, r *http.Request) {
	var req NotebookRef
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	if err := h.svc.Close(r.Context(), uri); err != nil {
		writeError(w, "close notebook", uri, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backup handles POST /api/notebooks/backup.
//
//	@Summary		Store unsaved content as hot-exit data
//	@Tags			backups
//	@Accept			json
//	@Param			body	body	BackupRequest	true	"Notebook and optional backup id"
//	@Success		204		"Backup stored or queued"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/backup [post]
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	h.backupAction(w, r, "backup notebook", h.svc.Backup)
}

// DeleteBackup handles DELETE /api/notebooks/backup.
//
//	@Summary		Remove hot-exit data
//	@Tags			backups
//	@Accept			json
//	@Param			body	body	BackupRequest	true	"Notebook and optional backup id"
//	@Success		204		"Backup removed or queued"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/backup [delete]
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	h.backupAction(w, r, "delete backup", h.svc.DeleteBackup)
}

func (h *Handler) backupAction(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, uri models.URI, backupID string) error,
) {
	var req BackupRequest
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	// A client hanging up must not abandon a write the coordinator started.
	ctx := context.WithoutCancel(r.Context())
	if err := fn(ctx, uri, req.BackupID); err != nil {
		writeError(w, op, uri, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateBackupID handles POST /api/notebooks/backup-id.
//
//	@Summary		Generate a fresh backup id
//	@Tags			backups
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRef	true	"Notebook"
//	@Success		200		{object}	BackupIDResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/backup-id [post]
func (h *Handler) GenerateBackupID(w http.ResponseWriter, r *http.Request) {
	var req NotebookRef
	if !decode(w, r, &req) {
		return
	}
	uri, ok := parseURI(w, req.URI)
	if !ok {
		return
	}
	id, err := h.svc.GenerateBackupID(r.Context(), uri)
	if err != nil {
		writeError(w, "generate backup id", uri, err)
		return
	}
	writeJSON(w, http.StatusOK, BackupIDResponse{BackupID: id})
}
