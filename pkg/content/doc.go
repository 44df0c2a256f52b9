// Package content implements the engine's content codec (C1): loading and
// serialising an OOXML word-processing document as a zipped container of
// XML parts, assigning stable element IDs, and applying single typed-path
// operations to the in-memory image. The deep OOXML schema (styles,
// themes, media) is treated as opaque — parts the codec does not
// understand are round-tripped byte for byte.
package content

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// documentPart is the zip entry the codec parses structurally. Every
// other part (styles.xml, headers, media, …) is preserved verbatim.
const documentPart = "word/document.xml"

// idNamespace is the reserved XML namespace declared on the document root
// once any element needs a codec-assigned ID.
const idNamespace = "urn:docx-session-engine:element-ids"

const wordprocessingNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// Handle is the in-memory image of one open document. It is not safe for
// concurrent use; callers (the session manager) serialize access per
// session.
type Handle struct {
	// Parts holds every zip entry other than word/document.xml, preserved
	// byte for byte. Keyed by the zip-internal path.
	Parts map[string][]byte
	// Body is the ordered list of top-level content elements.
	Body []*Element

	idSeq uint64
}

// newID is overridable in tests; production code always uses a
// fresh UUID so IDs are globally unique even across documents.
var newID = func() string {
	return "dxe-" + uuid.NewString()
}

// NewEmpty returns a Handle for a brand-new document containing no body
// content, backed by the minimal skeleton of parts a real OOXML consumer
// expects to find.
func NewEmpty() *Handle {
	parts := make(map[string][]byte, len(skeletonParts))
	for name, data := range skeletonParts {
		parts[name] = append([]byte(nil), data...)
	}
	return &Handle{Parts: parts, Body: nil}
}

// Load parses data as a zipped OOXML container, assigning a fresh ID to
// any content element that lacks one.
func Load(data []byte) (*Handle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, docxerr.Wrap(docxerr.ContentError, "not a valid zip container", err)
	}

	h := &Handle{Parts: make(map[string][]byte)}
	var documentXML []byte
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, docxerr.Wrap(docxerr.ContentError, fmt.Sprintf("open part %s", f.Name), err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, docxerr.Wrap(docxerr.ContentError, fmt.Sprintf("read part %s", f.Name), err)
		}
		if f.Name == documentPart {
			documentXML = raw
			continue
		}
		h.Parts[f.Name] = raw
	}
	if documentXML == nil {
		return nil, docxerr.New(docxerr.ContentError, "missing "+documentPart)
	}

	body, err := parseBody(documentXML)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.ContentError, "parse document body", err)
	}
	h.Body = body
	h.assignMissingIDs()
	return h, nil
}

// assignMissingIDs gives every element lacking an ID a fresh one. The
// namespace itself needs no explicit "declaration" bookkeeping beyond
// what Save always emits on the root element.
func (h *Handle) assignMissingIDs() {
	seen := make(map[string]struct{}, len(h.Body))
	for _, el := range h.Body {
		if el.ID == "" {
			continue
		}
		if _, dup := seen[el.ID]; dup {
			el.ID = newID()
		}
		seen[el.ID] = struct{}{}
	}
	for _, el := range h.Body {
		if el.ID != "" {
			continue
		}
		id := newID()
		for {
			if _, dup := seen[id]; !dup {
				break
			}
			id = newID()
		}
		el.ID = id
		seen[id] = struct{}{}
	}
}

// Save serialises h deterministically: parts are emitted in sorted order
// so that saving the same in-memory state twice yields byte-identical
// output.
func (h *Handle) Save() ([]byte, error) {
	documentXML, err := renderBody(h.Body)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.ContentError, "render document body", err)
	}

	names := make([]string, 0, len(h.Parts)+1)
	names = append(names, documentPart)
	for name := range h.Parts {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "create zip part", err)
		}
		var payload []byte
		if name == documentPart {
			payload = documentXML
		} else {
			payload = h.Parts[name]
		}
		if _, err := w.Write(payload); err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "write zip part", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "close zip writer", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of h, used by the session manager to take a
// pre-batch snapshot cheap enough to roll back to on partial failure.
func (h *Handle) Clone() *Handle {
	cp := &Handle{Parts: make(map[string][]byte, len(h.Parts)), Body: make([]*Element, len(h.Body))}
	for k, v := range h.Parts {
		cp.Parts[k] = append([]byte(nil), v...)
	}
	for i, el := range h.Body {
		cp.Body[i] = el.Clone()
	}
	return cp
}

// Digest returns a content-addressed hash of h's canonical serialised form.
// check_external uses it to detect whether the in-memory image and the
// external source have diverged without diffing their full bytes.
func (h *Handle) Digest() (string, error) {
	data, err := h.Save()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ElementByID returns the element carrying id and its index, or false.
func (h *Handle) ElementByID(id string) (*Element, int, bool) {
	for i, el := range h.Body {
		if el.ID == id {
			return el, i, true
		}
	}
	return nil, -1, false
}
