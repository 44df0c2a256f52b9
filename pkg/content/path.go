package content

import (
	"strconv"
	"strings"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// Path addresses zero or more body elements by type and optional index or
// selector. This is a deliberately minimal stand-in for a full typed-path
// addressing language: it covers the segment shapes the session manager's
// operations need (paragraph[n], paragraph[-1], paragraph[*], table[n],
// table[n]/column[n], and the text~=/style= selectors) and nothing beyond
// that.
type Path struct {
	raw      string
	elemType ElementType
	index    *int // nil means no numeric index given
	wildcard bool
	textLike string
	hasText  bool
	style    string
	hasStyle bool
	column   *int // set only for /body/table[n]/column[n]
}

// ParsePath parses a string of the form:
//
//	/body/paragraph[n]
//	/body/paragraph[-1]
//	/body/paragraph[*]
//	/body/paragraph[text~='needle']
//	/body/paragraph[style='Heading1']
//	/body/table[n]
//	/body/table[n]/column[m]
func ParsePath(raw string) (*Path, error) {
	trimmed := strings.TrimPrefix(raw, "/body/")
	if trimmed == raw {
		return nil, docxerr.New(docxerr.InvalidRequest, "path must start with /body/: "+raw)
	}

	segments := strings.Split(trimmed, "/")
	if len(segments) == 0 || len(segments) > 2 {
		return nil, docxerr.New(docxerr.InvalidRequest, "unsupported path: "+raw)
	}

	p := &Path{raw: raw}
	typeName, selector, err := splitSegment(segments[0])
	if err != nil {
		return nil, err
	}
	switch typeName {
	case "paragraph":
		p.elemType = ElementParagraph
	case "table":
		p.elemType = ElementTable
	default:
		return nil, docxerr.New(docxerr.InvalidRequest, "unknown element type in path: "+typeName)
	}
	if err := p.applySelector(selector); err != nil {
		return nil, err
	}

	if len(segments) == 2 {
		if p.elemType != ElementTable {
			return nil, docxerr.New(docxerr.InvalidRequest, "column segment only valid under table: "+raw)
		}
		colName, colSelector, err := splitSegment(segments[1])
		if err != nil {
			return nil, err
		}
		if colName != "column" {
			return nil, docxerr.New(docxerr.InvalidRequest, "unsupported second segment: "+colName)
		}
		idx, err := strconv.Atoi(colSelector)
		if err != nil {
			return nil, docxerr.New(docxerr.InvalidRequest, "column index must be an integer: "+colSelector)
		}
		p.column = &idx
	}

	return p, nil
}

func splitSegment(seg string) (name, selector string, err error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return "", "", docxerr.New(docxerr.InvalidRequest, "path segment missing selector: "+seg)
	}
	if !strings.HasSuffix(seg, "]") {
		return "", "", docxerr.New(docxerr.InvalidRequest, "path segment missing closing bracket: "+seg)
	}
	return seg[:open], seg[open+1 : len(seg)-1], nil
}

func (p *Path) applySelector(sel string) error {
	switch {
	case sel == "*":
		p.wildcard = true
	case sel == "-1":
		n := -1
		p.index = &n
	case strings.HasPrefix(sel, "text~="):
		val, err := unquote(strings.TrimPrefix(sel, "text~="))
		if err != nil {
			return err
		}
		p.hasText = true
		p.textLike = val
	case strings.HasPrefix(sel, "style="):
		val, err := unquote(strings.TrimPrefix(sel, "style="))
		if err != nil {
			return err
		}
		p.hasStyle = true
		p.style = val
	default:
		n, err := strconv.Atoi(sel)
		if err != nil {
			return docxerr.New(docxerr.InvalidRequest, "unrecognised selector: "+sel)
		}
		p.index = &n
	}
	return nil
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], nil
	}
	return "", docxerr.New(docxerr.InvalidRequest, "selector value must be single-quoted: "+s)
}

// Resolve returns every body index matching p, in document order. A plain
// numeric index is 1-based and counts only among elements of p's type.
func (p *Path) Resolve(body []*Element) []int {
	var typed []int
	for i, el := range body {
		if el.Type == p.elemType {
			typed = append(typed, i)
		}
	}

	var candidates []int
	switch {
	case p.wildcard:
		candidates = typed
	case p.index != nil:
		n := *p.index
		if n < 0 {
			n = len(typed) + n + 1
		}
		if n < 1 || n > len(typed) {
			return nil
		}
		candidates = []int{typed[n-1]}
	default:
		candidates = typed
	}

	if !p.hasText && !p.hasStyle {
		return candidates
	}

	var out []int
	for _, idx := range candidates {
		el := body[idx]
		if p.hasText && !strings.Contains(el.FlatText(), p.textLike) {
			continue
		}
		if p.hasStyle && (el.Type != ElementParagraph || el.Paragraph.Style != p.style) {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// ResolveOne returns the single body index matching p, erroring if zero or
// more than one element matches.
func (p *Path) ResolveOne(body []*Element) (int, error) {
	matches := p.Resolve(body)
	switch len(matches) {
	case 0:
		return -1, docxerr.New(docxerr.ContentError, "no element matches path: "+p.raw)
	case 1:
		return matches[0], nil
	default:
		return -1, docxerr.New(docxerr.ContentError, "path matches more than one element: "+p.raw)
	}
}

// Column returns the column index for a /body/table[n]/column[m] path and
// whether one was present.
func (p *Path) Column() (int, bool) {
	if p.column == nil {
		return 0, false
	}
	return *p.column, true
}
