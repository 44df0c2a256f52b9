package docxwal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cexll/docx-session-engine/pkg/content"
)

// PatchRecord is the payload of a KindPatch entry: one applied content.Op.
// apply_patch appends one of these per operation in a batch, never one per
// batch, so WAL position always advances one-for-one with cursor_position.
type PatchRecord struct {
	Op        content.Op `json:"op"`
	AppliedAt time.Time  `json:"applied_at"`
}

// ExternalSyncSummary tallies the structural diff folded into the document
// at a sync_external boundary — the same summary sync_external returns to
// its caller.
type ExternalSyncSummary struct {
	Added     int      `json:"added"`
	Removed   int      `json:"removed"`
	Modified  int      `json:"modified"`
	Moved     int      `json:"moved"`
	Uncovered []string `json:"uncovered,omitempty"`
}

// ExternalSyncRecord is the payload of a KindExternalSync entry: the full
// document bytes an external sync replaced the image with, plus the diff
// summary that justified the replacement. A sync is a full-image
// transplant rather than an incremental edit, so unlike PatchRecord it
// carries the document itself, not an operation to replay.
type ExternalSyncRecord struct {
	Summary  ExternalSyncSummary `json:"summary"`
	SyncedAt time.Time           `json:"synced_at"`
	Document []byte              `json:"document"`
}

// AppendPatch encodes and appends a single applied operation, returning its
// WAL position.
func (w *WAL) AppendPatch(op content.Op, appliedAt time.Time) (Position, error) {
	data, err := json.Marshal(PatchRecord{Op: op, AppliedAt: appliedAt})
	if err != nil {
		return 0, fmt.Errorf("wal: marshal patch record: %w", err)
	}
	return w.Append(Entry{Type: string(KindPatch), Data: data})
}

// AppendExternalSync encodes and appends a full-image replacement record.
func (w *WAL) AppendExternalSync(rec ExternalSyncRecord) (Position, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("wal: marshal external sync record: %w", err)
	}
	return w.Append(Entry{Type: string(KindExternalSync), Data: data})
}

// DecodePatch decodes e as a PatchRecord, failing if e is not a patch entry.
func DecodePatch(e Entry) (PatchRecord, error) {
	if e.Type != string(KindPatch) {
		return PatchRecord{}, fmt.Errorf("wal: entry at position %d is not a patch record (kind %q)", e.Position, e.Type)
	}
	var rec PatchRecord
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return PatchRecord{}, fmt.Errorf("wal: unmarshal patch record: %w", err)
	}
	return rec, nil
}

// DecodeExternalSync decodes e as an ExternalSyncRecord, failing if e is
// not an external-sync entry.
func DecodeExternalSync(e Entry) (ExternalSyncRecord, error) {
	if e.Type != string(KindExternalSync) {
		return ExternalSyncRecord{}, fmt.Errorf("wal: entry at position %d is not an external sync record (kind %q)", e.Position, e.Type)
	}
	var rec ExternalSyncRecord
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return ExternalSyncRecord{}, fmt.Errorf("wal: unmarshal external sync record: %w", err)
	}
	return rec, nil
}
