package sessionindex

import (
	"testing"
	"time"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	backend, err := docxstore.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	return NewIndex(backend)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ix := newIndex(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New("sess-1", &SourceDescriptor{Kind: "local", URI: "/tmp/doc.docx"}, now)
	m.WALLength = 3
	m.RecordCheckpoint(0)
	m.RecordCheckpoint(2)

	if err := ix.Save(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := ix.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != "sess-1" || loaded.WALLength != 3 {
		t.Fatalf("loaded meta = %+v", loaded)
	}
	if loaded.Source == nil || loaded.Source.URI != "/tmp/doc.docx" {
		t.Fatalf("loaded source = %+v", loaded.Source)
	}
	latest, ok := loaded.LatestCheckpoint()
	if !ok || latest != docxwal.Position(2) {
		t.Fatalf("latest checkpoint = %d, %v; want 2, true", latest, ok)
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	ix := newIndex(t)
	if _, err := ix.Load(); !docxerr.Is(err, docxerr.NotFound) {
		t.Fatalf("load missing index: err = %v, want NotFound", err)
	}
}

func TestRecordCheckpointDeduplicates(t *testing.T) {
	m := New("sess-1", nil, time.Now())
	m.RecordCheckpoint(5)
	m.RecordCheckpoint(5)
	if len(m.CheckpointPositions) != 1 {
		t.Fatalf("checkpoint positions = %v, want one entry", m.CheckpointPositions)
	}
}
