package codec

import (
	"bytes"
	"strings"
)

// Indent describes the indentation style of a serialized notebook.
type Indent struct {
	Width int
	Tab   bool
}

// DefaultIndent matches the one-space indentation Jupyter itself writes.
var DefaultIndent = Indent{Width: 1}

// String returns the literal indentation unit.
func (i Indent) String() string {
	if i.Tab {
		return "\t"
	}
	if i.Width <= 0 {
		return " "
	}
	return strings.Repeat(" ", i.Width)
}

// DetectIndent infers the indentation unit of text from the most frequent
// positive indentation step between consecutive non-blank lines.
func DetectIndent(text []byte) Indent {
	counts := make(map[int]int)
	var tabLines, spaceLines, prev int

	for _, line := range bytes.Split(text, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(bytes.TrimSpace(trimmed)) == 0 {
			continue
		}
		lead := line[:len(line)-len(trimmed)]
		if len(lead) > 0 && lead[0] == '\t' {
			tabLines++
			continue
		}
		n := len(lead)
		if n > 0 {
			spaceLines++
		}
		if d := n - prev; d > 0 {
			counts[d]++
		}
		prev = n
	}

	if tabLines > spaceLines {
		return Indent{Width: 1, Tab: true}
	}

	best, bestCount := 0, 0
	for step, c := range counts {
		if c > bestCount || (c == bestCount && step < best) {
			best, bestCount = step, c
		}
	}
	if best == 0 {
		return DefaultIndent
	}
	return Indent{Width: best}
}
