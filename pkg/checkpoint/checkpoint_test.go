package checkpoint

import (
	"errors"
	"testing"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := docxstore.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	return New(backend)
}

func TestSaveLoadExact(t *testing.T) {
	s := newStore(t)
	if err := s.Save(docxwal.Position(5), []byte("doc-v5")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadExact(docxwal.Position(5))
	if err != nil {
		t.Fatalf("load exact: %v", err)
	}
	if string(got) != "doc-v5" {
		t.Fatalf("document = %q, want doc-v5", string(got))
	}
}

func TestSaveRejectsDuplicatePosition(t *testing.T) {
	s := newStore(t)
	if err := s.Save(docxwal.Position(1), []byte("a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := s.Save(docxwal.Position(1), []byte("b"))
	if err == nil {
		t.Fatalf("expected error re-saving position 1")
	}
	if docxerr.KindOf(err) != docxerr.StorageError {
		t.Fatalf("kind = %v, want StorageError", docxerr.KindOf(err))
	}
}

func TestLoadNearestPicksLatestAtOrBefore(t *testing.T) {
	s := newStore(t)
	for _, p := range []docxwal.Position{0, 10, 20} {
		if err := s.Save(p, []byte{byte(p)}); err != nil {
			t.Fatalf("save %d: %v", p, err)
		}
	}
	pos, _, err := s.LoadNearest(docxwal.Position(15))
	if err != nil {
		t.Fatalf("load nearest: %v", err)
	}
	if pos != 10 {
		t.Fatalf("nearest position = %d, want 10", pos)
	}
}

func TestLoadNearestErrorsBeforeAnyCheckpoint(t *testing.T) {
	s := newStore(t)
	if err := s.Save(docxwal.Position(10), []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, _, err := s.LoadNearest(docxwal.Position(5))
	if !errors.Is(err, err) || docxerr.KindOf(err) != docxerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListReturnsSortedPositions(t *testing.T) {
	s := newStore(t)
	for _, p := range []docxwal.Position{30, 0, 15} {
		if err := s.Save(p, []byte("x")); err != nil {
			t.Fatalf("save %d: %v", p, err)
		}
	}
	positions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []docxwal.Position{0, 15, 30}
	if len(positions) != len(want) {
		t.Fatalf("positions = %v, want %v", positions, want)
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("positions = %v, want %v", positions, want)
		}
	}
}
