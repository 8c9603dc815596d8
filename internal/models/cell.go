package models

import (
	"fmt"

	"github.com/google/uuid"
)

// CellState is the execution/display state of a cell.
type CellState int

const (
	CellNotRun CellState = iota
	CellRunning
	CellFinished
	CellError
)

var cellStateNames = [...]string{"not_run", "running", "finished", "error"}

func (s CellState) String() string {
	if s < 0 || int(s) >= len(cellStateNames) {
		return fmt.Sprintf("CellState(%d)", int(s))
	}
	return cellStateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s CellState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CellState) UnmarshalText(b []byte) error {
	for i, name := range cellStateNames {
		if name == string(b) {
			*s = CellState(i)
			return nil
		}
	}
	return fmt.Errorf("models: unknown cell state %q", b)
}

// Cell is one element of a notebook's ordered cell list.
type Cell struct {
	ID    string         `json:"id"`
	File  string         `json:"file,omitempty"` // source location; empty for imported cells
	Line  int            `json:"line"`
	State CellState      `json:"state"`
	Data  map[string]any `json:"data"`
}

// ImportedCellID is the synthetic id of the index-th cell read from a file.
func ImportedCellID(index int) string {
	return fmt.Sprintf("NotebookImport#%d", index)
}

// NewEmptyCodeCell returns a blank code cell with a fresh unique id.
func NewEmptyCodeCell() Cell {
	return Cell{
		ID:    uuid.NewString(),
		State: CellFinished,
		Data: map[string]any{
			"cell_type":       "code",
			"execution_count": nil,
			"metadata":        map[string]any{},
			"outputs":         []any{},
			"source":          []any{},
		},
	}
}
