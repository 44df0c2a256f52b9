package docxwal

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cexll/docx-session-engine/pkg/content"
)

func addOp(text string) content.Op {
	return content.Op{Kind: content.OpAdd, NewType: content.ElementParagraph, NewText: text}
}

func TestWALAppendPatchReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	appliedAt := time.Unix(1700000000, 0).UTC()
	ops := []content.Op{addOp("hello"), addOp("world")}
	var positions []Position
	for _, op := range ops {
		pos, err := w.AppendPatch(op, appliedAt)
		if err != nil {
			t.Fatalf("append patch: %v", err)
		}
		positions = append(positions, pos)
	}
	if _, err := w.AppendExternalSync(ExternalSyncRecord{
		Summary:  ExternalSyncSummary{Added: 1},
		SyncedAt: appliedAt,
		Document: []byte("snapshot"),
	}); err != nil {
		t.Fatalf("append external sync: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()

	var replay []Entry
	if err := w.Replay(func(e Entry) error {
		replay = append(replay, e)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(replay) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(replay))
	}
	for i, op := range ops {
		rec, err := DecodePatch(replay[i])
		if err != nil {
			t.Fatalf("decode patch %d: %v", i, err)
		}
		if rec.Op.NewText != op.NewText {
			t.Fatalf("patch %d text = %q want %q", i, rec.Op.NewText, op.NewText)
		}
		if replay[i].Position != positions[i] {
			t.Fatalf("patch %d position = %d want %d", i, replay[i].Position, positions[i])
		}
	}
	syncRec, err := DecodeExternalSync(replay[2])
	if err != nil {
		t.Fatalf("decode external sync: %v", err)
	}
	if syncRec.Summary.Added != 1 || string(syncRec.Document) != "snapshot" {
		t.Fatalf("external sync record = %+v", syncRec)
	}

	if _, err := DecodeExternalSync(replay[0]); err == nil {
		t.Fatalf("expected DecodeExternalSync to reject a patch entry")
	}
	if _, err := DecodePatch(replay[2]); err == nil {
		t.Fatalf("expected DecodePatch to reject an external sync entry")
	}
}

func TestWALRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(Entry{Type: "unknown", Data: []byte("x")}); err == nil {
		t.Fatalf("expected append of unregistered kind to fail")
	}
}

func TestWALRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, WithSegmentBytes(256))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 32; i++ {
		if _, err := w.AppendPatch(addOp(string(rune('a'+i%26))), time.Time{}); err != nil {
			t.Fatalf("append #%d: %v", i, err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected rotation, found %d segments", len(files))
	}
}

func TestWALCrashRecoveryTruncatesPartialEntry(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := w.AppendPatch(addOp("persisted"), time.Time{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if w.current == nil {
		t.Fatalf("current segment nil")
	}
	f, err := os.OpenFile(w.current.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()
	w.Close()

	w, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()

	var replay []Entry
	if err := w.Replay(func(e Entry) error {
		replay = append(replay, e)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay) != 1 {
		t.Fatalf("replay after crash = %+v", replay)
	}
	rec, err := DecodePatch(replay[0])
	if err != nil || rec.Op.NewText != "persisted" {
		t.Fatalf("replay after crash = %+v, err %v", rec, err)
	}
}

func TestWALTruncateRemovesOldSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, WithSegmentBytes(512))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var pos []Position
	for i := 0; i < 10; i++ {
		p, err := w.AppendPatch(addOp(string(rune('a'+i))), time.Time{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		pos = append(pos, p)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	cut := pos[4]
	if err := w.Truncate(cut); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	w.Close()

	w, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()

	var replay []Entry
	if err := w.Replay(func(e Entry) error {
		replay = append(replay, e)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay) != len(pos)-4 {
		t.Fatalf("replayed %d entries, want %d", len(replay), len(pos)-4)
	}
	if replay[0].Position != cut {
		t.Fatalf("first position = %d want %d", replay[0].Position, cut)
	}
}

func BenchmarkWALAppendPatch(b *testing.B) {
	if testing.Short() {
		b.Skip("short")
	}
	dir := b.TempDir()
	w, err := Open(dir, WithSegmentBytes(1<<20), WithDisabledSync())
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	defer w.Close()

	op := addOp("benchmark paragraph text")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := w.AppendPatch(op, time.Time{}); err != nil {
			b.Fatalf("append: %v", err)
		}
	}
}

func TestWALConcurrentAppend(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, WithDisabledSync())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	workers := runtime.NumCPU()
	perWorker := 32
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				op := addOp(string(rune('a' + (id+j)%26)))
				if _, err := w.AppendPatch(op, time.Time{}); err != nil {
					t.Errorf("append worker %d: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	count := 0
	if err := w.Replay(func(e Entry) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != workers*perWorker {
		t.Fatalf("replayed %d entries want %d", count, workers*perWorker)
	}
}
