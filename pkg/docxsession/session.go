package docxsession

import (
	"os"
	"sync"
	"time"

	"github.com/cexll/docx-session-engine/pkg/checkpoint"
	"github.com/cexll/docx-session-engine/pkg/content"
	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxlog"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
	"github.com/cexll/docx-session-engine/pkg/lock"
	"github.com/cexll/docx-session-engine/pkg/sessionindex"
	"github.com/cexll/docx-session-engine/pkg/sourceio"
)

// now is overridable in tests; production code always uses the wall
// clock (time.Now is one of the handful of calls this codebase's host
// harness disallows at build/verify time, never at runtime).
var now = time.Now

// Session is one open editing context, matching the engine's Session
// entity: a WAL, a checkpoint store, an index record, an optional cross-
// process lock and external source, and the current in-memory document
// image. All mutating access is serialised by Manager per session ID;
// Session itself holds a mutex only to protect read-only accessors like
// Document() racing with a concurrent mutation.
type Session struct {
	id string

	wal         *docxwal.WAL
	checkpoints *checkpoint.Store
	index       *sessionindex.Index
	flock       *lock.Lock
	source      sourceio.Source
	log         docxlog.Logger

	checkpointInterval int64

	mu     sync.Mutex
	meta   *sessionindex.Meta
	handle *content.Handle
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CursorPosition returns the WAL position the in-memory image reflects.
func (s *Session) CursorPosition() docxwal.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.CursorPosition
}

// WALLength returns the number of WAL entries currently recorded.
func (s *Session) WALLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.WALLength
}

// PendingExternalChange reports whether check_external has flagged the
// backing source as diverged from the in-memory image.
func (s *Session) PendingExternalChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.PendingExternalChange
}

// Document returns a clone of the current in-memory image. Callers must
// not mutate the returned Handle's backing arrays directly; Clone already
// gives them their own copy.
func (s *Session) Document() *content.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Clone()
}

// applyEntry mutates h according to one WAL entry, dispatching on its
// recorded type. A patch entry replays the single op it carries; an
// external_sync entry replaces the whole image with the document bytes it
// captured, since a sync is a full-image transplant rather than an
// incremental edit.
func applyEntry(h *content.Handle, e docxwal.Entry) error {
	switch e.Type {
	case string(docxwal.KindPatch):
		rec, err := docxwal.DecodePatch(e)
		if err != nil {
			return err
		}
		_, err = h.Apply(rec.Op)
		return err
	case string(docxwal.KindExternalSync):
		rec, err := docxwal.DecodeExternalSync(e)
		if err != nil {
			return err
		}
		loaded, err := content.Load(rec.Document)
		if err != nil {
			return err
		}
		*h = *loaded
		return nil
	default:
		return docxerr.New(docxerr.StorageError, "unknown wal entry type: "+e.Type)
	}
}

// rebuildAt reconstructs the document image as of exactly target by
// loading the nearest checkpoint at or before target and replaying every
// WAL entry in [checkpointPosition, target). This is the algorithm undo,
// jump-to-a-prior-position, and session open (resume) all share.
func (s *Session) rebuildAt(target docxwal.Position) (*content.Handle, error) {
	ckptPos, ckptDoc, err := s.checkpoints.LoadNearest(target)
	if err != nil {
		return nil, err
	}
	h, err := content.Load(ckptDoc)
	if err != nil {
		return nil, err
	}
	replayErr := s.wal.Replay(func(e docxwal.Entry) error {
		if e.Position < ckptPos || e.Position >= target {
			return nil
		}
		return applyEntry(h, e)
	})
	if replayErr != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "replay wal", replayErr)
	}
	return h, nil
}

// replayForward applies WAL entries [from, to) directly onto h in place,
// without rebuilding from a checkpoint. Used by redo and forward jump_to,
// which per the undo/redo contract never need to go back further than the
// image already reflects.
func (s *Session) replayForward(h *content.Handle, from, to docxwal.Position) error {
	err := s.wal.Replay(func(e docxwal.Entry) error {
		if e.Position < from || e.Position >= to {
			return nil
		}
		return applyEntry(h, e)
	})
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "replay wal", err)
	}
	return nil
}

// truncateTail implements edit-after-undo: it discards every WAL entry at
// a position >= cursor (the forward tail made unreachable once new edits
// are applied from a rewound cursor) and every checkpoint beyond cursor.
//
// docxwal.WAL.Truncate performs prefix truncation (it drops positions
// below a threshold, for post-checkpoint compaction) — the opposite of
// what is needed here. Since this engine never invokes that prefix
// truncation on its own (CompactionSuggested is advisory only, see
// Manager.CompactionSuggested), WAL positions always start at 0 and stay
// dense, so collecting every kept entry and replaying it into a fresh WAL
// reassigns identical position numbers deterministically.
func (s *Session) truncateTail(dir string, cursor docxwal.Position) error {
	var kept []docxwal.Entry
	err := s.wal.Replay(func(e docxwal.Entry) error {
		if e.Position < cursor {
			kept = append(kept, e)
		}
		return nil
	})
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "replay wal for truncation", err)
	}
	if err := s.wal.Close(); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "close wal before truncation", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "clear wal directory", err)
	}
	fresh, err := docxwal.Open(dir)
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "reopen wal after truncation", err)
	}
	for _, e := range kept {
		if _, err := fresh.Append(docxwal.Entry{Type: e.Type, Data: e.Data}); err != nil {
			fresh.Close()
			return docxerr.Wrap(docxerr.StorageError, "replay kept entries into fresh wal", err)
		}
	}
	s.wal = fresh

	removed, err := s.checkpoints.DeleteAfter(cursor)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		s.meta.CheckpointPositions = remainingCheckpoints(s.meta.CheckpointPositions, removed)
	}
	s.meta.WALLength = int64(len(kept))
	s.log.Printf("session %s: truncated wal tail at cursor %d, removed checkpoints %v", s.id, cursor, removed)
	return nil
}

func remainingCheckpoints(all []docxwal.Position, removed []docxwal.Position) []docxwal.Position {
	cut := make(map[docxwal.Position]bool, len(removed))
	for _, p := range removed {
		cut[p] = true
	}
	out := make([]docxwal.Position, 0, len(all))
	for _, p := range all {
		if !cut[p] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) persistMeta() error {
	s.meta.ModifiedAt = now()
	return s.index.Save(s.meta)
}

// maybeCheckpoint writes a checkpoint if the cursor lands on a multiple of
// the configured interval, recording the position in the index.
func (s *Session) maybeCheckpoint() error {
	if s.checkpointInterval <= 0 || int64(s.meta.CursorPosition)%s.checkpointInterval != 0 {
		return nil
	}
	return s.writeCheckpoint()
}

func (s *Session) writeCheckpoint() error {
	data, err := s.handle.Save()
	if err != nil {
		return docxerr.Wrap(docxerr.ContentError, "serialize document for checkpoint", err)
	}
	if err := s.checkpoints.Save(s.meta.CursorPosition, data); err != nil {
		return err
	}
	s.meta.RecordCheckpoint(s.meta.CursorPosition)
	s.log.Printf("session %s: checkpoint written at position %d", s.id, s.meta.CursorPosition)
	return nil
}
