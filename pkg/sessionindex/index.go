// Package sessionindex implements the engine's session index (C4): small,
// persistent JSON metadata describing one session's external source, WAL
// progress, checkpoint positions, and cursor — everything the session
// manager needs to resume a session without replaying from scratch.
// Grounded on the session package's own metadata bookkeeping (FileSession
// tracks created/modified timestamps and checkpoint positions in memory);
// here that bookkeeping is made the durable record Manager.Resume loads to
// rebuild a session, since unlike a chat transcript the document itself
// lives outside the WAL.
package sessionindex

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

// indexPath is the single well-known path each session's backend root
// stores its metadata record under.
const indexPath = "index.json"

// SourceDescriptor identifies the external file a session tracks, if any.
// Sessions opened from an in-memory document with no backing file carry a
// nil descriptor.
type SourceDescriptor struct {
	Kind string `json:"kind"` // "local" or "cloud"
	URI  string `json:"uri"`
	// Fingerprint is the content fingerprint (etag or mtime derived) of the
	// external source as recorded when the session was opened. check_external
	// does not consult it: it reads the whole document and compares digests.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Meta is the full persistent record for one session.
type Meta struct {
	SessionID  string            `json:"session_id"`
	Source     *SourceDescriptor `json:"source,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`

	WALLength           int64              `json:"wal_length"`
	CheckpointPositions []docxwal.Position `json:"checkpoint_positions"`
	CursorPosition      docxwal.Position   `json:"cursor_position"`

	// PendingExternalChange gates mutating operations once check_external
	// observes the external file changed underneath the session; cleared by
	// sync_external, or by a later check_external that finds no change.
	PendingExternalChange bool `json:"pending_external_change"`
}

// New returns a fresh Meta for a brand-new session. A nil source means the
// session has no external file to synchronise against: it is always clean
// (PendingExternalChange is never set), and check_external/sync_external
// return NotFound for it.
func New(sessionID string, source *SourceDescriptor, now time.Time) *Meta {
	return &Meta{
		SessionID:           sessionID,
		Source:              source,
		CreatedAt:           now,
		ModifiedAt:          now,
		CheckpointPositions: []docxwal.Position{},
	}
}

// Index persists Meta records through a docxstore.Backend rooted at one
// session's directory.
type Index struct {
	backend docxstore.Backend
}

// NewIndex returns an Index writing through backend.
func NewIndex(backend docxstore.Backend) *Index {
	return &Index{backend: backend}
}

// Load reads the persisted Meta. Callers must Save an initial Meta before
// the first Load of a new session.
func (ix *Index) Load() (*Meta, error) {
	data, err := ix.backend.Read(indexPath)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.NotFound, "session index not found", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "unmarshal session index", err)
	}
	return &m, nil
}

// Save durably writes m, overwriting any prior record. Writes go through
// the backend's atomic rename-based Write so a crash mid-write never
// leaves a half-written index behind.
func (ix *Index) Save(m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "marshal session index", err)
	}
	if err := ix.backend.Write(indexPath, data); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "write session index", err)
	}
	return nil
}

// RecordCheckpoint appends position to m's checkpoint list if not already
// present, keeping the list ascending.
func (m *Meta) RecordCheckpoint(position docxwal.Position) {
	for _, p := range m.CheckpointPositions {
		if p == position {
			return
		}
	}
	m.CheckpointPositions = append(m.CheckpointPositions, position)
	sort.Slice(m.CheckpointPositions, func(i, j int) bool {
		return m.CheckpointPositions[i] < m.CheckpointPositions[j]
	})
}

// LatestCheckpoint returns the highest recorded checkpoint position, or
// false if none has been taken yet.
func (m *Meta) LatestCheckpoint() (docxwal.Position, bool) {
	if len(m.CheckpointPositions) == 0 {
		return 0, false
	}
	best := m.CheckpointPositions[0]
	for _, p := range m.CheckpointPositions[1:] {
		if p > best {
			best = p
		}
	}
	return best, true
}
