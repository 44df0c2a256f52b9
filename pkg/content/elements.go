package content

import "strings"

// ElementType enumerates the top-level body content kinds the codec
// understands structurally. Any other top-level body content encountered
// in a real document (drawings, smart art, …) is not kept: Load skips it
// and Save does not write it back.
type ElementType string

const (
	ElementParagraph ElementType = "paragraph"
	ElementTable     ElementType = "table"
)

// Run is one contiguous span of text within a paragraph.
type Run struct {
	Text string
}

// Paragraph is a body-level paragraph element.
type Paragraph struct {
	Runs  []Run
	Style string
}

// FlatText concatenates every run's text with no separator, matching how
// word processors report a paragraph's plain-text content.
func (p *Paragraph) FlatText() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// SetText replaces all runs with a single run carrying text.
func (p *Paragraph) SetText(text string) {
	p.Runs = []Run{{Text: text}}
}

func (p *Paragraph) clone() *Paragraph {
	cp := &Paragraph{Style: p.Style, Runs: make([]Run, len(p.Runs))}
	copy(cp.Runs, p.Runs)
	return cp
}

// Cell is one table cell, modeled as a single paragraph of text. Real
// OOXML cells can nest arbitrary block content; the engine only needs
// flat text for diffing and typed-path addressing, so richer nesting is
// collapsed to its flattened text on load and expanded back to a single
// paragraph on save.
type Cell struct {
	Text string
}

// Row is an ordered list of cells.
type Row struct {
	Cells []Cell
}

// Table is a body-level table element.
type Table struct {
	Rows []Row
}

// FlatText joins every cell's text, rows separated by newlines and cells
// by tabs, giving a stable text projection for diffing and text search.
func (t *Table) FlatText() string {
	var b strings.Builder
	for ri, row := range t.Rows {
		if ri > 0 {
			b.WriteByte('\n')
		}
		for ci, cell := range row.Cells {
			if ci > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(cell.Text)
		}
	}
	return b.String()
}

// ColumnCount returns the widest row's cell count.
func (t *Table) ColumnCount() int {
	max := 0
	for _, row := range t.Rows {
		if len(row.Cells) > max {
			max = len(row.Cells)
		}
	}
	return max
}

// RemoveColumn drops column idx from every row, if present.
func (t *Table) RemoveColumn(idx int) {
	for ri := range t.Rows {
		row := &t.Rows[ri]
		if idx < 0 || idx >= len(row.Cells) {
			continue
		}
		row.Cells = append(row.Cells[:idx], row.Cells[idx+1:]...)
	}
}

func (t *Table) clone() *Table {
	cp := &Table{Rows: make([]Row, len(t.Rows))}
	for i, row := range t.Rows {
		cells := make([]Cell, len(row.Cells))
		copy(cells, row.Cells)
		cp.Rows[i] = Row{Cells: cells}
	}
	return cp
}

// Element is one addressable, ID-carrying top-level body element.
type Element struct {
	ID        string
	Type      ElementType
	Paragraph *Paragraph
	Table     *Table
}

// FlatText returns the flattened text projection used by text-based
// selectors and the diff engine.
func (e *Element) FlatText() string {
	switch e.Type {
	case ElementParagraph:
		return e.Paragraph.FlatText()
	case ElementTable:
		return e.Table.FlatText()
	default:
		return ""
	}
}

// Clone returns a deep copy of e, including a fresh ID-independent copy
// of its content (the ID itself is preserved).
func (e *Element) Clone() *Element {
	cp := &Element{ID: e.ID, Type: e.Type}
	if e.Paragraph != nil {
		cp.Paragraph = e.Paragraph.clone()
	}
	if e.Table != nil {
		cp.Table = e.Table.clone()
	}
	return cp
}

// Projection is the structural JSON-serializable view of an Element used
// by the diff engine (C6) to compare two documents by ID.
type Projection struct {
	ID       string   `json:"id"`
	Type     string   `json:"element_type"`
	Index    int      `json:"index"`
	Text     string   `json:"text"`
	Style    string   `json:"style,omitempty"`
	RowTexts []string `json:"row_texts,omitempty"`
}

// ToProjection builds the structural projection for e at position index.
func ToProjection(e *Element, index int) Projection {
	proj := Projection{ID: e.ID, Type: string(e.Type), Index: index, Text: e.FlatText()}
	switch e.Type {
	case ElementParagraph:
		proj.Style = e.Paragraph.Style
	case ElementTable:
		for _, row := range e.Table.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = c.Text
			}
			proj.RowTexts = append(proj.RowTexts, strings.Join(cells, "\t"))
		}
	}
	return proj
}
