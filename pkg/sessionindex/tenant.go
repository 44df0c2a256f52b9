package sessionindex

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

// tenantIndexPath is the single well-known document a tenant's backend
// root stores its combined session listing under, matching the wire
// format spec.md §6 documents: `{ sessions: { <id>: {...} } }`.
const tenantIndexPath = "index.json"

// TenantEntry is one session's projection into the tenant-wide index
// document, matching the wire schema field for field.
type TenantEntry struct {
	SourcePath            string             `json:"source_path,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	ModifiedAt            time.Time          `json:"modified_at"`
	WALPosition           docxwal.Position   `json:"wal_position"`
	CheckpointPositions   []docxwal.Position `json:"checkpoint_positions"`
	PendingExternalChange bool               `json:"pending_external_change"`
}

// EntryFromMeta projects a per-session Meta record into the tenant-index
// wire shape Manager persists the session under.
func EntryFromMeta(m *Meta) TenantEntry {
	entry := TenantEntry{
		CreatedAt:             m.CreatedAt,
		ModifiedAt:            m.ModifiedAt,
		WALPosition:           docxwal.Position(m.WALLength),
		CheckpointPositions:   append([]docxwal.Position(nil), m.CheckpointPositions...),
		PendingExternalChange: m.PendingExternalChange,
	}
	if m.Source != nil {
		entry.SourcePath = m.Source.URI
	}
	return entry
}

// tenantDocument is the on-disk shape of the whole tenant index.
type tenantDocument struct {
	Sessions map[string]TenantEntry `json:"sessions"`
}

// TenantIndex maintains the single per-tenant JSON document listing every
// known session, separate from each session's own authoritative Meta
// record (sessionindex.Index). Manager updates it after every mutation
// that changes a session's Meta. Upsert and Remove are serialised within
// one process by a mutex; no cross-process lock is taken, so two processes
// updating the same tenant index concurrently can overwrite each other's
// update.
type TenantIndex struct {
	backend docxstore.Backend
	mu      sync.Mutex
}

// NewTenantIndex returns a TenantIndex writing through backend, typically
// a docxstore.FileBackend rooted at one tenant's directory.
func NewTenantIndex(backend docxstore.Backend) *TenantIndex {
	return &TenantIndex{backend: backend}
}

// Upsert writes or replaces sessionID's entry, derived from m.
func (t *TenantIndex) Upsert(sessionID string, m *Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load()
	if err != nil {
		return err
	}
	doc.Sessions[sessionID] = EntryFromMeta(m)
	return t.save(doc)
}

// Remove deletes sessionID's entry, if present. A no-op if it is not.
func (t *TenantIndex) Remove(sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load()
	if err != nil {
		return err
	}
	delete(doc.Sessions, sessionID)
	return t.save(doc)
}

// List returns every session ID currently recorded, sorted for
// deterministic output.
func (t *TenantIndex) List() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Sessions))
	for id := range doc.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Entry returns the recorded projection for sessionID.
func (t *TenantIndex) Entry(sessionID string) (TenantEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load()
	if err != nil {
		return TenantEntry{}, false, err
	}
	e, ok := doc.Sessions[sessionID]
	return e, ok, nil
}

func (t *TenantIndex) load() (*tenantDocument, error) {
	data, err := t.backend.Read(tenantIndexPath)
	if err != nil {
		if os.IsNotExist(err) {
			// A tenant with no sessions yet has no index document; that is
			// the expected starting state, not a failure.
			return &tenantDocument{Sessions: map[string]TenantEntry{}}, nil
		}
		return nil, docxerr.Wrap(docxerr.StorageError, "read tenant index", err)
	}
	var doc tenantDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "unmarshal tenant index", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]TenantEntry{}
	}
	return &doc, nil
}

func (t *TenantIndex) save(doc *tenantDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "marshal tenant index", err)
	}
	if err := t.backend.Write(tenantIndexPath, data); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "write tenant index", err)
	}
	return nil
}
