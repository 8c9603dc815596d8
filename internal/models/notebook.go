package models

import (
	"maps"
	"sync"

	"github.com/starford/nbkeep/internal/codec"
)

// NotebookParams carries the loader-assembled fields a Notebook is built from.
type NotebookParams struct {
	URI           URI
	Cells         []Cell
	Trusted       bool
	Dirty         bool
	Indent        codec.Indent
	Metadata      map[string]any
	NBFormat      int
	NBFormatMinor int
	Language      string
	KernelName    string
	PythonVersion int
}

// Notebook is the in-memory model of an open notebook. It is safe for
// concurrent use.
//
// The cell list is never empty. Once trusted, a notebook only becomes
// untrusted through a replace, which carries a fresh verification.
type Notebook struct {
	mu sync.RWMutex
	// revision counts content changes; reloads compare it to detect edits
	// made while they were reading from disk.
	revision uint64

	uri           URI
	cells         []Cell
	trusted       bool
	dirty         bool
	indent        codec.Indent
	metadata      map[string]any
	nbformat      int
	nbformatMinor int
	language      string
	kernelName    string
	pythonVersion int
}

// NewNotebook builds a model from p.
func NewNotebook(p NotebookParams) *Notebook {
	nb := &Notebook{}
	nb.apply(p)
	nb.dirty = p.Dirty
	return nb
}

func (nb *Notebook) apply(p NotebookParams) {
	nb.uri = p.URI
	nb.cells = ensureCells(p.Cells)
	nb.trusted = p.Trusted
	nb.indent = p.Indent
	if nb.indent == (codec.Indent{}) {
		nb.indent = codec.DefaultIndent
	}
	nb.metadata = maps.Clone(p.Metadata)
	if nb.metadata == nil {
		nb.metadata = map[string]any{}
	}
	nb.nbformat = p.NBFormat
	nb.nbformatMinor = p.NBFormatMinor
	if nb.nbformat == 0 {
		nb.nbformat, nb.nbformatMinor = codec.NBFormat, codec.NBFormatMinor
	}
	nb.language = p.Language
	nb.kernelName = p.KernelName
	nb.pythonVersion = p.PythonVersion
}

func ensureCells(cells []Cell) []Cell {
	if len(cells) == 0 {
		return []Cell{NewEmptyCodeCell()}
	}
	out := make([]Cell, len(cells))
	copy(out, cells)
	return out
}

// URI returns the owning document identity.
func (nb *Notebook) URI() URI {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.uri
}

// Cells returns a copy of the cell list.
func (nb *Notebook) Cells() []Cell {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	out := make([]Cell, len(nb.cells))
	copy(out, nb.cells)
	return out
}

func (nb *Notebook) Trusted() bool {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.trusted
}

func (nb *Notebook) Dirty() bool {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.dirty
}

func (nb *Notebook) Indent() codec.Indent {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.indent
}

func (nb *Notebook) Language() string {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.language
}

func (nb *Notebook) KernelName() string {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.kernelName
}

func (nb *Notebook) PythonVersion() int {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.pythonVersion
}

// Metadata returns a shallow copy of the notebook metadata.
func (nb *Notebook) Metadata() map[string]any {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return maps.Clone(nb.metadata)
}

// SetCells replaces the cell list and marks the notebook dirty.
func (nb *Notebook) SetCells(cells []Cell) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.cells = ensureCells(cells)
	nb.dirty = true
	nb.revision++
}

// Revision returns a counter that advances on every content change.
func (nb *Notebook) Revision() uint64 {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.revision
}

// Trust marks the notebook trusted.
func (nb *Notebook) Trust() {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.trusted = true
}

// MarkSaved clears the dirty flag after a durable save.
func (nb *Notebook) MarkSaved() {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.dirty = false
}

// Rebind moves the notebook to a new identity (save-as).
func (nb *Notebook) Rebind(uri URI) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.uri = uri
}

// Replace swaps in freshly loaded state (revert). The identity is kept and
// the trust flag takes the re-verified value from p.
func (nb *Notebook) Replace(p NotebookParams) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.replace(p)
}

// ReplaceIfUnchanged swaps in p only when the notebook is clean and its
// revision still equals rev. It reports whether the swap happened.
func (nb *Notebook) ReplaceIfUnchanged(rev uint64, p NotebookParams) bool {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.dirty || nb.revision != rev {
		return false
	}
	nb.replace(p)
	return true
}

func (nb *Notebook) replace(p NotebookParams) {
	uri := nb.uri
	nb.apply(p)
	nb.uri = uri
	nb.dirty = p.Dirty
	nb.revision++
}

// Content serializes the notebook in the interchange format using its
// detected indentation.
func (nb *Notebook) Content() ([]byte, error) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	doc := &codec.Document{
		Cells:         make([]map[string]any, len(nb.cells)),
		Metadata:      nb.metadata,
		NBFormat:      nb.nbformat,
		NBFormatMinor: nb.nbformatMinor,
	}
	for i, c := range nb.cells {
		if c.Data == nil {
			doc.Cells[i] = map[string]any{}
			continue
		}
		doc.Cells[i] = c.Data
	}
	return codec.Serialize(doc, nb.indent)
}
