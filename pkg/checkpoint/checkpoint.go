// Package checkpoint implements the engine's checkpoint store (C3): durable,
// write-once full-document snapshots taken at specific WAL positions so
// replay never has to start from position zero. Grounded on the session
// package's checkpoint-by-name records, but stored as standalone write-once
// files rather than embedded WAL entries, since a checkpoint here captures
// the whole document image rather than an incremental transcript.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

// prefix is the backend path prefix every checkpoint for a session is
// stored under, relative to the session's own root.
const prefix = "checkpoints/"

// record is the on-disk shape of one checkpoint: position plus the raw
// document bytes, kept together so a single WriteOnce call is atomic for
// both.
type record struct {
	Position docxwal.Position `json:"position"`
	Document []byte           `json:"document"`
}

// Store persists document snapshots for one session.
type Store struct {
	backend docxstore.Backend
}

// New returns a Store writing through backend. Callers typically hand it a
// docxstore.FileBackend rooted at the session's directory.
func New(backend docxstore.Backend) *Store {
	return &Store{backend: backend}
}

// Save writes a checkpoint at position. It fails if a checkpoint already
// exists at that position: checkpoints are immutable once taken, matching
// the write-once semantics WAL positions already guarantee (a position is
// never replayed with different content).
func (s *Store) Save(position docxwal.Position, document []byte) error {
	rec := record{Position: position, Document: document}
	data, err := json.Marshal(rec)
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "marshal checkpoint", err)
	}
	path := pathFor(position)
	if err := s.backend.WriteOnce(path, data); err != nil {
		if errors.Is(err, docxstore.ErrAlreadyExists) {
			return docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("checkpoint already exists at position %d", position), err)
		}
		return docxerr.Wrap(docxerr.StorageError, "write checkpoint", err)
	}
	return nil
}

// LoadExact returns the document bytes saved at exactly position.
func (s *Store) LoadExact(position docxwal.Position) ([]byte, error) {
	data, err := s.backend.Read(pathFor(position))
	if err != nil {
		return nil, docxerr.Wrap(docxerr.NotFound, fmt.Sprintf("no checkpoint at position %d", position), err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "unmarshal checkpoint", err)
	}
	return rec.Document, nil
}

// LoadNearest returns the document bytes and position of the latest
// checkpoint at or before position, the starting point for replaying the
// WAL tail up to the requested position.
func (s *Store) LoadNearest(position docxwal.Position) (docxwal.Position, []byte, error) {
	positions, err := s.List()
	if err != nil {
		return 0, nil, err
	}
	best := docxwal.Position(-1)
	for _, p := range positions {
		if p <= position && p > best {
			best = p
		}
	}
	if best < 0 {
		return 0, nil, docxerr.New(docxerr.NotFound, fmt.Sprintf("no checkpoint at or before position %d", position))
	}
	doc, err := s.LoadExact(best)
	if err != nil {
		return 0, nil, err
	}
	return best, doc, nil
}

// List returns every checkpoint position currently stored, ascending.
func (s *Store) List() ([]docxwal.Position, error) {
	names, err := s.backend.List(prefix)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "list checkpoints", err)
	}
	positions := make([]docxwal.Position, 0, len(names))
	for _, name := range names {
		pos, ok := parsePosition(name)
		if !ok {
			continue
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions, nil
}

// DeleteAfter removes every checkpoint at a position strictly greater than
// threshold, used by apply_patch's edit-after-undo handling: once the WAL
// tail beyond the cursor is discarded, any checkpoint taken within that
// tail is unreachable and must go with it.
func (s *Store) DeleteAfter(threshold docxwal.Position) ([]docxwal.Position, error) {
	positions, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []docxwal.Position
	for _, p := range positions {
		if p <= threshold {
			continue
		}
		if err := s.backend.Delete(pathFor(p)); err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("delete checkpoint at position %d", p), err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func pathFor(position docxwal.Position) string {
	return fmt.Sprintf("%s%020d.ckpt", prefix, int64(position))
}

func parsePosition(name string) (docxwal.Position, bool) {
	base := strings.TrimPrefix(strings.TrimPrefix(name, "/"), prefix)
	base = strings.TrimSuffix(base, ".ckpt")
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return docxwal.Position(n), true
}
