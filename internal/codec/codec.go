// Package codec parses and serializes the notebook interchange format (.ipynb)
// and repairs legacy or partially malformed documents into a uniform cell list.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Current nbformat version written by Serialize.
const (
	NBFormat      = 4
	NBFormatMinor = 2
)

// ErrMissingCells is wrapped by FormatError when a document has no cell list.
var ErrMissingCells = errors.New("document has no cell list")

// FormatError reports content that cannot be interpreted as a notebook.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("codec: invalid notebook: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Document is the parsed notebook: an ordered list of opaque cell objects
// plus the top-level metadata.
type Document struct {
	Cells         []map[string]any
	Metadata      map[string]any
	NBFormat      int
	NBFormatMinor int
}

// Parse decodes notebook JSON. Legacy nbformat 3 worksheets are flattened and
// every cell is normalised to the nbformat 4 shape.
func Parse(text []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, &FormatError{Err: err}
	}
	if raw == nil {
		return nil, &FormatError{Err: ErrMissingCells}
	}

	doc := &Document{
		NBFormat:      NBFormat,
		NBFormatMinor: NBFormatMinor,
	}
	if v, ok := raw["metadata"]; ok {
		// Non-object metadata is dropped rather than failing the whole document.
		_ = json.Unmarshal(v, &doc.Metadata)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if v, ok := raw["nbformat"]; ok {
		_ = json.Unmarshal(v, &doc.NBFormat)
	}
	if v, ok := raw["nbformat_minor"]; ok {
		_ = json.Unmarshal(v, &doc.NBFormatMinor)
	}

	cells, err := decodeCells(raw)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		repairCell(c)
	}
	doc.Cells = cells
	if doc.NBFormat < NBFormat {
		doc.NBFormat, doc.NBFormatMinor = NBFormat, NBFormatMinor
	}
	return doc, nil
}

func decodeCells(raw map[string]json.RawMessage) ([]map[string]any, error) {
	if v, ok := raw["cells"]; ok {
		var cells []map[string]any
		if err := json.Unmarshal(v, &cells); err != nil {
			return nil, &FormatError{Err: fmt.Errorf("cells: %w", err)}
		}
		if cells == nil {
			return nil, &FormatError{Err: ErrMissingCells}
		}
		return cells, checkCells(cells)
	}

	// nbformat 3 keeps cells inside worksheets.
	v, ok := raw["worksheets"]
	if !ok {
		return nil, &FormatError{Err: ErrMissingCells}
	}
	var worksheets []struct {
		Cells []map[string]any `json:"cells"`
	}
	if err := json.Unmarshal(v, &worksheets); err != nil {
		return nil, &FormatError{Err: fmt.Errorf("worksheets: %w", err)}
	}
	cells := []map[string]any{}
	for _, ws := range worksheets {
		cells = append(cells, ws.Cells...)
	}
	return cells, checkCells(cells)
}

// checkCells rejects null entries; json decodes them to nil maps.
func checkCells(cells []map[string]any) error {
	for i, c := range cells {
		if c == nil {
			return &FormatError{Err: fmt.Errorf("cells[%d]: not an object", i)}
		}
	}
	return nil
}

func repairCell(c map[string]any) {
	if _, ok := c["metadata"].(map[string]any); !ok {
		c["metadata"] = map[string]any{}
	}

	if input, ok := c["input"]; ok {
		if _, has := c["source"]; !has {
			c["source"] = input
		}
		delete(c, "input")
	}

	// nbformat 3 heading cells become markdown headings.
	if c["cell_type"] == "heading" {
		level := 1
		if f, ok := c["level"].(float64); ok && f >= 1 {
			level = int(f)
		}
		text := sourceText(c["source"])
		c["cell_type"] = "markdown"
		c["source"] = strings.Repeat("#", level) + " " + text
		delete(c, "level")
	}

	if s, ok := c["source"].(string); ok {
		c["source"] = splitLines(s)
	}
	if _, ok := c["source"]; !ok {
		c["source"] = []any{}
	}

	if c["cell_type"] == "code" {
		if n, ok := c["prompt_number"]; ok {
			if _, has := c["execution_count"]; !has {
				c["execution_count"] = n
			}
			delete(c, "prompt_number")
		}
		if _, ok := c["execution_count"]; !ok {
			c["execution_count"] = nil
		}
		if _, ok := c["outputs"].([]any); !ok {
			c["outputs"] = []any{}
		}
		delete(c, "language")
	}
}

func sourceText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		var b strings.Builder
		for _, line := range s {
			if str, ok := line.(string); ok {
				b.WriteString(str)
			}
		}
		return b.String()
	}
	return ""
}

// splitLines splits s into lines that keep their trailing newline, the way
// nbformat stores multi-line strings.
func splitLines(s string) []any {
	if s == "" {
		return []any{}
	}
	parts := strings.SplitAfter(s, "\n")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Serialize encodes doc as nbformat JSON indented with indent, followed by a
// trailing newline.
func Serialize(doc *Document, indent Indent) ([]byte, error) {
	out := struct {
		Cells         []map[string]any `json:"cells"`
		Metadata      map[string]any   `json:"metadata"`
		NBFormat      int              `json:"nbformat"`
		NBFormatMinor int              `json:"nbformat_minor"`
	}{
		Cells:         doc.Cells,
		Metadata:      doc.Metadata,
		NBFormat:      doc.NBFormat,
		NBFormatMinor: doc.NBFormatMinor,
	}
	if out.Cells == nil {
		out.Cells = []map[string]any{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if out.NBFormat == 0 {
		out.NBFormat, out.NBFormatMinor = NBFormat, NBFormatMinor
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent.String())
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("codec: serialize: %w", err)
	}
	return buf.Bytes(), nil
}
