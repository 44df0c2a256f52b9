package content

import (
	"strings"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// OpKind enumerates the single-step content mutations the session manager
// can replay from a patch.
type OpKind string

const (
	OpAdd          OpKind = "add"
	OpReplace      OpKind = "replace"
	OpRemove       OpKind = "remove"
	OpMove         OpKind = "move"
	OpCopy         OpKind = "copy"
	OpReplaceText  OpKind = "replace_text"
	OpRemoveColumn OpKind = "remove_column"
)

// Op is one entry of an apply_patch batch. Path addresses the target
// element; fields beyond Kind/Path are interpreted per Kind and left zero
// otherwise.
type Op struct {
	Kind OpKind `json:"op"`
	Path string `json:"path"`

	// Add: the new element to insert immediately before Path's match, or
	// appended to the body when Path is empty.
	NewType  ElementType `json:"new_type,omitempty"`
	NewText  string      `json:"new_text,omitempty"`
	NewStyle string      `json:"new_style,omitempty"`

	// Replace: whole-paragraph text replacement.
	Text string `json:"text,omitempty"`

	// ReplaceText: substring substitution within a paragraph's flattened
	// text. MaxCount <= 0 means replace every occurrence. If Find is empty,
	// ReplaceText falls back to whole-text replacement via Text, matching
	// Replace's behaviour.
	Find     string `json:"find,omitempty"`
	Replace  string `json:"replace,omitempty"`
	MaxCount int    `json:"max_count,omitempty"`

	// Move/Copy: destination path identifying the insertion point.
	DestPath string `json:"dest_path,omitempty"`

	// RemoveColumn.
	Column int `json:"column,omitempty"`
}

// Apply performs a single op against h in place and returns the ID of the
// element it affected (the new element for add/copy, the existing one
// otherwise). Callers wanting all-or-nothing batch semantics should Clone
// h first and restore the clone on error (the session manager owns that
// rollback policy).
func (h *Handle) Apply(op Op) (string, error) {
	switch op.Kind {
	case OpAdd:
		return h.applyAdd(op)
	case OpReplace:
		return h.applyReplace(op)
	case OpRemove:
		return h.applyRemove(op)
	case OpMove:
		return h.applyMove(op)
	case OpCopy:
		return h.applyCopy(op)
	case OpReplaceText:
		return h.applyReplaceText(op)
	case OpRemoveColumn:
		return h.applyRemoveColumn(op)
	default:
		return "", docxerr.New(docxerr.InvalidRequest, "unknown op: "+string(op.Kind))
	}
}

func (h *Handle) resolveIndex(path string) (int, error) {
	p, err := ParsePath(path)
	if err != nil {
		return -1, err
	}
	return p.ResolveOne(h.Body)
}

func (h *Handle) newElement(op Op) (*Element, error) {
	el := &Element{ID: newID(), Type: op.NewType}
	switch op.NewType {
	case ElementParagraph:
		el.Paragraph = &Paragraph{Style: op.NewStyle}
		if op.NewText != "" {
			el.Paragraph.SetText(op.NewText)
		}
	case ElementTable:
		el.Table = &Table{}
	default:
		return nil, docxerr.New(docxerr.InvalidRequest, "add requires a valid new_type")
	}
	return el, nil
}

func (h *Handle) applyAdd(op Op) (string, error) {
	el, err := h.newElement(op)
	if err != nil {
		return "", err
	}
	if op.Path == "" {
		h.Body = append(h.Body, el)
		return el.ID, nil
	}
	idx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	h.Body = append(h.Body, nil)
	copy(h.Body[idx+1:], h.Body[idx:])
	h.Body[idx] = el
	return el.ID, nil
}

func (h *Handle) applyReplace(op Op) (string, error) {
	idx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	el := h.Body[idx]
	switch el.Type {
	case ElementParagraph:
		el.Paragraph.SetText(op.Text)
	case ElementTable:
		return "", docxerr.New(docxerr.ContentError, "replace is not supported on table elements, use replace_text per cell")
	}
	return el.ID, nil
}

func (h *Handle) applyRemove(op Op) (string, error) {
	idx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	id := h.Body[idx].ID
	h.Body = append(h.Body[:idx], h.Body[idx+1:]...)
	return id, nil
}

func (h *Handle) applyMove(op Op) (string, error) {
	srcIdx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	el := h.Body[srcIdx]
	h.Body = append(h.Body[:srcIdx], h.Body[srcIdx+1:]...)

	destIdx, err := h.resolveIndex(op.DestPath)
	if err != nil {
		// destination no longer resolves against the shortened body;
		// restore source state before reporting failure.
		h.Body = append(h.Body, nil)
		copy(h.Body[srcIdx+1:], h.Body[srcIdx:])
		h.Body[srcIdx] = el
		return "", err
	}
	h.Body = append(h.Body, nil)
	copy(h.Body[destIdx+1:], h.Body[destIdx:])
	h.Body[destIdx] = el
	return el.ID, nil
}

func (h *Handle) applyCopy(op Op) (string, error) {
	srcIdx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	clone := h.Body[srcIdx].Clone()
	clone.ID = newID()

	destIdx, err := h.resolveIndex(op.DestPath)
	if err != nil {
		return "", err
	}
	h.Body = append(h.Body, nil)
	copy(h.Body[destIdx+1:], h.Body[destIdx:])
	h.Body[destIdx] = clone
	return clone.ID, nil
}

func (h *Handle) applyReplaceText(op Op) (string, error) {
	idx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	el := h.Body[idx]
	if el.Type != ElementParagraph {
		return "", docxerr.New(docxerr.ContentError, "replace_text requires a paragraph path")
	}
	if op.Find == "" {
		el.Paragraph.SetText(op.Text)
		return el.ID, nil
	}
	limit := op.MaxCount
	if limit <= 0 {
		limit = -1
	}
	el.Paragraph.SetText(strings.Replace(el.Paragraph.FlatText(), op.Find, op.Replace, limit))
	return el.ID, nil
}

func (h *Handle) applyRemoveColumn(op Op) (string, error) {
	idx, err := h.resolveIndex(op.Path)
	if err != nil {
		return "", err
	}
	el := h.Body[idx]
	if el.Type != ElementTable {
		return "", docxerr.New(docxerr.ContentError, "remove_column requires a table path")
	}
	if op.Column < 0 || op.Column >= el.Table.ColumnCount() {
		return "", docxerr.New(docxerr.InvalidRequest, "column index out of range")
	}
	el.Table.RemoveColumn(op.Column)
	return el.ID, nil
}
