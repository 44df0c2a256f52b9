package content

import (
	"testing"
)

func newFixture(t *testing.T) *Handle {
	t.Helper()
	h := NewEmpty()
	h.Body = []*Element{
		{ID: "p1", Type: ElementParagraph, Paragraph: &Paragraph{Runs: []Run{{Text: "hello"}}, Style: "Normal"}},
		{ID: "p2", Type: ElementParagraph, Paragraph: &Paragraph{Runs: []Run{{Text: "world"}}, Style: "Heading1"}},
		{ID: "t1", Type: ElementTable, Table: &Table{Rows: []Row{
			{Cells: []Cell{{Text: "a"}, {Text: "b"}}},
			{Cells: []Cell{{Text: "c"}, {Text: "d"}}},
		}}},
	}
	return h
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := newFixture(t)
	data, err := h.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Body) != len(h.Body) {
		t.Fatalf("loaded %d elements, want %d", len(loaded.Body), len(h.Body))
	}
	for i, el := range loaded.Body {
		want := h.Body[i]
		if el.ID != want.ID || el.Type != want.Type {
			t.Fatalf("element %d = %+v, want %+v", i, el, want)
		}
		if el.FlatText() != want.FlatText() {
			t.Fatalf("element %d flat text = %q, want %q", i, el.FlatText(), want.FlatText())
		}
	}
	if loaded.Body[0].Paragraph.Style != "Normal" {
		t.Fatalf("paragraph style = %q, want Normal", loaded.Body[0].Paragraph.Style)
	}
}

func TestAssignMissingIDsDedupes(t *testing.T) {
	h := &Handle{Body: []*Element{
		{ID: "dup", Type: ElementParagraph, Paragraph: &Paragraph{}},
		{ID: "dup", Type: ElementParagraph, Paragraph: &Paragraph{}},
		{ID: "", Type: ElementParagraph, Paragraph: &Paragraph{}},
	}}
	h.assignMissingIDs()

	seen := make(map[string]bool)
	for _, el := range h.Body {
		if el.ID == "" {
			t.Fatalf("element left without an id")
		}
		if seen[el.ID] {
			t.Fatalf("duplicate id %s after assignMissingIDs", el.ID)
		}
		seen[el.ID] = true
	}
}

func TestParsePathIndexAndWildcard(t *testing.T) {
	h := newFixture(t)

	p, err := ParsePath("/body/paragraph[1]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	idx, err := p.ResolveOne(h.Body)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Body[idx].ID != "p1" {
		t.Fatalf("paragraph[1] resolved to %s, want p1", h.Body[idx].ID)
	}

	p, err = ParsePath("/body/paragraph[-1]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	idx, err = p.ResolveOne(h.Body)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Body[idx].ID != "p2" {
		t.Fatalf("paragraph[-1] resolved to %s, want p2", h.Body[idx].ID)
	}

	p, err = ParsePath("/body/paragraph[*]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	matches := p.Resolve(h.Body)
	if len(matches) != 2 {
		t.Fatalf("paragraph[*] matched %d elements, want 2", len(matches))
	}
}

func TestParsePathSelectors(t *testing.T) {
	h := newFixture(t)

	p, err := ParsePath("/body/paragraph[text~='wor']")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	idx, err := p.ResolveOne(h.Body)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Body[idx].ID != "p2" {
		t.Fatalf("text~= resolved to %s, want p2", h.Body[idx].ID)
	}

	p, err = ParsePath("/body/paragraph[style='Heading1']")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	idx, err = p.ResolveOne(h.Body)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Body[idx].ID != "p2" {
		t.Fatalf("style= resolved to %s, want p2", h.Body[idx].ID)
	}
}

func TestParsePathColumn(t *testing.T) {
	p, err := ParsePath("/body/table[1]/column[0]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	col, ok := p.Column()
	if !ok || col != 0 {
		t.Fatalf("column = %d, %v; want 0, true", col, ok)
	}
}

func TestApplyReplaceText(t *testing.T) {
	h := newFixture(t)
	if id, err := h.Apply(Op{Kind: OpReplaceText, Path: "/body/paragraph[1]", Text: "changed"}); err != nil {
		t.Fatalf("apply: %v", err)
	} else if id != "p1" {
		t.Fatalf("affected id = %q, want p1", id)
	}
	if h.Body[0].Paragraph.FlatText() != "changed" {
		t.Fatalf("text = %q, want changed", h.Body[0].Paragraph.FlatText())
	}
}

func TestApplyReplaceTextFindReplaceLimit(t *testing.T) {
	h := newFixture(t)
	h.Body[0].Paragraph.SetText("ba ba ba black sheep")
	_, err := h.Apply(Op{
		Kind:     OpReplaceText,
		Path:     "/body/paragraph[1]",
		Find:     "ba",
		Replace:  "moo",
		MaxCount: 2,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := "moo moo ba black sheep"
	if got := h.Body[0].Paragraph.FlatText(); got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestApplyAddInsertsBeforeTarget(t *testing.T) {
	h := newFixture(t)
	id, err := h.Apply(Op{
		Kind:    OpAdd,
		Path:    "/body/paragraph[2]",
		NewType: ElementParagraph,
		NewText: "inserted",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(h.Body) != 4 {
		t.Fatalf("body length = %d, want 4", len(h.Body))
	}
	if h.Body[1].Paragraph.FlatText() != "inserted" {
		t.Fatalf("inserted element at wrong position: %q", h.Body[1].Paragraph.FlatText())
	}
	if id != h.Body[1].ID {
		t.Fatalf("affected id = %q, want %q", id, h.Body[1].ID)
	}
}

func TestApplyRemove(t *testing.T) {
	h := newFixture(t)
	if id, err := h.Apply(Op{Kind: OpRemove, Path: "/body/paragraph[1]"}); err != nil {
		t.Fatalf("apply: %v", err)
	} else if id != "p1" {
		t.Fatalf("affected id = %q, want p1", id)
	}
	if len(h.Body) != 2 {
		t.Fatalf("body length = %d, want 2", len(h.Body))
	}
	if h.Body[0].ID != "p2" {
		t.Fatalf("remaining first element = %s, want p2", h.Body[0].ID)
	}
}

func TestApplyMove(t *testing.T) {
	h := newFixture(t)
	_, err := h.Apply(Op{Kind: OpMove, Path: "/body/paragraph[1]", DestPath: "/body/table[1]"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(h.Body) != 3 || h.Body[1].ID != "p1" || h.Body[2].ID != "t1" {
		t.Fatalf("moved element not relocated before table, body = %v", idsOf(h.Body))
	}
}

func TestApplyCopy(t *testing.T) {
	h := newFixture(t)
	id, err := h.Apply(Op{Kind: OpCopy, Path: "/body/paragraph[1]", DestPath: "/body/table[1]"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(h.Body) != 4 {
		t.Fatalf("body length = %d, want 4", len(h.Body))
	}
	if h.Body[0].ID != "p1" {
		t.Fatalf("original element removed by copy")
	}
	if id == "" || id == "p1" {
		t.Fatalf("affected id = %q, want a fresh clone id", id)
	}
}

func TestApplyRemoveColumn(t *testing.T) {
	h := newFixture(t)
	if id, err := h.Apply(Op{Kind: OpRemoveColumn, Path: "/body/table[1]", Column: 0}); err != nil {
		t.Fatalf("apply: %v", err)
	} else if id != "t1" {
		t.Fatalf("affected id = %q, want t1", id)
	}
	tbl := h.Body[2].Table
	if tbl.ColumnCount() != 1 {
		t.Fatalf("column count = %d, want 1", tbl.ColumnCount())
	}
	if tbl.Rows[0].Cells[0].Text != "b" {
		t.Fatalf("remaining cell = %q, want b", tbl.Rows[0].Cells[0].Text)
	}
}

func idsOf(body []*Element) []string {
	ids := make([]string, len(body))
	for i, el := range body {
		ids[i] = el.ID
	}
	return ids
}
