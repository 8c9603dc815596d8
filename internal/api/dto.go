package api

import (
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/session"
)

// NotebookRef names an open notebook.
type NotebookRef struct {
	URI string `json:"uri" example:"file:///work/analysis.ipynb" validate:"required"`
}

// OpenNotebookRequest is the request body for opening a notebook.
type OpenNotebookRequest struct {
	URI string `json:"uri" example:"untitled:Untitled-1.ipynb" validate:"required"`
	// Content is the host-held text of a notebook without a file.
	Content   *string `json:"content,omitempty"`
	SkipDirty bool    `json:"skipDirty,omitempty"`
	BackupID  string  `json:"backupId,omitempty" example:"analysis.ipynb-5f0c..."`
}

// SetCellsRequest replaces the cells of an open notebook.
type SetCellsRequest struct {
	URI   string        `json:"uri" validate:"required"`
	Cells []models.Cell `json:"cells" validate:"required"`
}

// SaveAsRequest is the request body for save-as.
type SaveAsRequest struct {
	URI    string `json:"uri" validate:"required"`
	Target string `json:"target" example:"file:///work/copy.ipynb" validate:"required"`
}

// BackupRequest selects the backup of an open notebook. An empty BackupID
// selects the notebook's default backup.
type BackupRequest struct {
	URI      string `json:"uri" validate:"required"`
	BackupID string `json:"backupId,omitempty"`
}

// BackupIDResponse carries a freshly generated backup id.
type BackupIDResponse struct {
	BackupID string `json:"backupId" validate:"required"`
}

// NotebookDetail is the full notebook response type (aliased from the session layer).
type NotebookDetail = session.Detail
