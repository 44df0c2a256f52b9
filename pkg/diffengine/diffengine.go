// Package diffengine implements the engine's diff engine (C6): structural
// comparison of two document images by element ID, producing typed
// removed/added/modified/moved records plus a summary of "uncovered"
// changes (styling, headers/footers, media) the codec does not model
// structurally. cmp.Equal is used for the projection-equality check the
// pack's own state-comparison test helpers already lean on, promoted here
// from test-only use to the engine's one piece of production comparison
// logic.
package diffengine

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/sjson"

	"github.com/cexll/docx-session-engine/pkg/content"
	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// ChangeKind enumerates the structural change categories the diff engine
// reports for body elements.
type ChangeKind string

const (
	ChangeRemoved  ChangeKind = "removed"
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeMoved    ChangeKind = "moved"
)

// Change describes one element-level structural difference between a base
// and a candidate document.
type Change struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id"`

	// BaseIndex/CandidateIndex are the element's position in each document's
	// body, -1 when the element is absent from that side.
	BaseIndex      int `json:"base_index"`
	CandidateIndex int `json:"candidate_index"`

	// InsertPath is set only on ChangeAdded records: the candidate body path
	// `/body/children/<index>` an inserter would need to reproduce the
	// addition at, using CandidateIndex.
	InsertPath string `json:"insert_path,omitempty"`

	Before *content.Projection `json:"before,omitempty"`
	After  *content.Projection `json:"after,omitempty"`
}

// UncoveredKind enumerates the non-body parts of a document the codec
// treats opaquely. A byte-for-byte difference in one of these parts is
// reported as a summary, never as a Change.
type UncoveredKind string

const (
	UncoveredHeader    UncoveredKind = "header"
	UncoveredFooter    UncoveredKind = "footer"
	UncoveredImage     UncoveredKind = "image"
	UncoveredStyle     UncoveredKind = "style"
	UncoveredNumbering UncoveredKind = "numbering"
	UncoveredTheme     UncoveredKind = "theme"
	UncoveredOther     UncoveredKind = "other"
)

// UncoveredChange summarizes opaque parts that differ between the two
// documents, without attempting to describe what changed inside them.
type UncoveredChange struct {
	Kind  UncoveredKind `json:"kind"`
	Parts []string      `json:"parts"`
}

// Result is the full output of comparing two documents.
type Result struct {
	Changes   []Change          `json:"changes"`
	Uncovered []UncoveredChange `json:"uncovered,omitempty"`
}

// Compare produces the structural diff between base and candidate. Moves
// are detected after removed/added/modified classification: an element
// present on both sides at a different index, with an unchanged
// projection, is reclassified from modified to moved.
func Compare(base, candidate *content.Handle) Result {
	baseByID, baseOrder := projectAll(base.Body)
	candByID, candOrder := projectAll(candidate.Body)

	var changes []Change
	seen := make(map[string]bool)

	for _, id := range baseOrder {
		seen[id] = true
		bProj := baseByID[id]
		cProj, ok := candByID[id]
		if !ok {
			changes = append(changes, Change{
				Kind:           ChangeRemoved,
				ID:             id,
				BaseIndex:      bProj.Index,
				CandidateIndex: -1,
				Before:         projPtr(bProj),
			})
			continue
		}
		if cProj.Index != bProj.Index || !cmp.Equal(bProj, cProj) {
			kind := ChangeModified
			if cmp.Equal(withIndex(bProj, 0), withIndex(cProj, 0)) {
				kind = ChangeMoved
			}
			changes = append(changes, Change{
				Kind:           kind,
				ID:             id,
				BaseIndex:      bProj.Index,
				CandidateIndex: cProj.Index,
				Before:         projPtr(bProj),
				After:          projPtr(cProj),
			})
		}
	}

	for _, id := range candOrder {
		if seen[id] {
			continue
		}
		cProj := candByID[id]
		changes = append(changes, Change{
			Kind:           ChangeAdded,
			ID:             id,
			BaseIndex:      -1,
			CandidateIndex: cProj.Index,
			InsertPath:     insertPath(cProj.Index),
			After:          projPtr(cProj),
		})
	}

	sortChanges(changes)
	return Result{Changes: changes}
}

// CompareParts summarizes non-body parts that differ between base and
// candidate as uncovered changes, grouped by inferred kind.
func CompareParts(base, candidate *content.Handle) []UncoveredChange {
	byKind := make(map[UncoveredKind][]string)
	names := make(map[string]bool)
	for name := range base.Parts {
		names[name] = true
	}
	for name := range candidate.Parts {
		names[name] = true
	}

	for name := range names {
		a, aok := base.Parts[name]
		b, bok := candidate.Parts[name]
		if aok && bok && string(a) == string(b) {
			continue
		}
		kind := classifyPart(name)
		byKind[kind] = append(byKind[kind], name)
	}

	kinds := make([]UncoveredKind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]UncoveredChange, 0, len(kinds))
	for _, k := range kinds {
		parts := byKind[k]
		sort.Strings(parts)
		out = append(out, UncoveredChange{Kind: k, Parts: parts})
	}
	return out
}

func classifyPart(name string) UncoveredKind {
	switch {
	case containsAny(name, "header"):
		return UncoveredHeader
	case containsAny(name, "footer"):
		return UncoveredFooter
	case containsAny(name, "media", "image"):
		return UncoveredImage
	case containsAny(name, "styles"):
		return UncoveredStyle
	case containsAny(name, "numbering"):
		return UncoveredNumbering
	case containsAny(name, "theme"):
		return UncoveredTheme
	default:
		return UncoveredOther
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if indexOfSubstring(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOfSubstring(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func projectAll(body []*content.Element) (map[string]content.Projection, []string) {
	byID := make(map[string]content.Projection, len(body))
	order := make([]string, 0, len(body))
	for i, el := range body {
		byID[el.ID] = content.ToProjection(el, i)
		order = append(order, el.ID)
	}
	return byID, order
}

// insertPath formats the body path an added element landed at, per the
// `/body/children/<index>` convention a patch inserter targets.
func insertPath(index int) string {
	return "/body/children/" + strconv.Itoa(index)
}

func projPtr(p content.Projection) *content.Projection {
	cp := p
	return &cp
}

// withIndex returns a copy of p with Index forced to n, used to compare
// two projections ignoring position so a pure reorder isn't reported as a
// content modification.
func withIndex(p content.Projection, n int) content.Projection {
	cp := p
	cp.Index = n
	return cp
}

// changeKindOrder fixes the kind precedence spec.md §4.6 requires for
// deterministic output: removed, added, modified, moved.
var changeKindOrder = map[ChangeKind]int{
	ChangeRemoved:  0,
	ChangeAdded:    1,
	ChangeModified: 2,
	ChangeMoved:    3,
}

// sortChanges orders changes by kind (removed, added, modified, moved)
// then by position ascending — new_index (CandidateIndex) for every kind
// except removed, which sorts by old_index (BaseIndex) since a removed
// element has no candidate-side position. ID is the final tie-break for
// full determinism when two changes of the same kind land at the same
// index (never happens today, since index is unique per kind, but keeps
// sort.Slice's result independent of input order).
func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if changeKindOrder[a.Kind] != changeKindOrder[b.Kind] {
			return changeKindOrder[a.Kind] < changeKindOrder[b.Kind]
		}
		aPos, bPos := a.CandidateIndex, b.CandidateIndex
		if a.Kind == ChangeRemoved {
			aPos, bPos = a.BaseIndex, b.BaseIndex
		}
		if aPos != bPos {
			return aPos < bPos
		}
		return a.ID < b.ID
	})
}

// IsEmpty reports whether the result carries no reportable difference at
// all, body or opaque-part.
func (r Result) IsEmpty() bool {
	return len(r.Changes) == 0 && len(r.Uncovered) == 0
}

// Counts tallies Changes by kind, the shape sync_external's structured WAL
// summary and the transient check_external response both need.
func (r Result) Counts() (added, removed, modified, moved int) {
	for _, c := range r.Changes {
		switch c.Kind {
		case ChangeAdded:
			added++
		case ChangeRemoved:
			removed++
		case ChangeModified:
			modified++
		case ChangeMoved:
			moved++
		}
	}
	return
}

// UncoveredKinds returns the distinct uncovered-change kinds present,
// sorted, for embedding in a summary without the per-part file lists.
func (r Result) UncoveredKinds() []string {
	kinds := make([]string, 0, len(r.Uncovered))
	for _, u := range r.Uncovered {
		kinds = append(kinds, string(u.Kind))
	}
	return kinds
}

// JSON renders r as the transient diff payload returned to callers of
// check_external/sync_external, built incrementally with sjson rather than
// a single struct literal so the per-change polymorphic before/after
// projections can be omitted when nil without extra struct tags.
func (r Result) JSON() ([]byte, error) {
	doc := []byte(`{"changes":[],"uncovered":[]}`)
	var err error
	for _, c := range r.Changes {
		raw, marshalErr := json.Marshal(c)
		if marshalErr != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "marshal change", marshalErr)
		}
		doc, err = sjson.SetRawBytes(doc, "changes.-1", raw)
		if err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "append change", err)
		}
	}
	for _, u := range r.Uncovered {
		raw, marshalErr := json.Marshal(u)
		if marshalErr != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "marshal uncovered change", marshalErr)
		}
		doc, err = sjson.SetRawBytes(doc, "uncovered.-1", raw)
		if err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "append uncovered change", err)
		}
	}
	return doc, nil
}
