package docxsession

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/cexll/docx-session-engine/pkg/checkpoint"
	"github.com/cexll/docx-session-engine/pkg/content"
	"github.com/cexll/docx-session-engine/pkg/diffengine"
	"github.com/cexll/docx-session-engine/pkg/docxconfig"
	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxlog"
	"github.com/cexll/docx-session-engine/pkg/docxsecurity"
	"github.com/cexll/docx-session-engine/pkg/docxstore"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
	"github.com/cexll/docx-session-engine/pkg/lock"
	"github.com/cexll/docx-session-engine/pkg/sessionindex"
	"github.com/cexll/docx-session-engine/pkg/sourceio"
	"github.com/cexll/docx-session-engine/pkg/telemetry"
)

// SourceKind enumerates the two source_descriptor variants spec.md §3
// defines. Both carry an opaque byte reader/writer to the core; only the
// local variant is built directly here, since the cloud variant's
// connection/auth handling is out of scope (§1) and left to the caller.
type SourceKind string

const (
	SourceLocalFile SourceKind = "local_file"
	SourceCloud     SourceKind = "cloud"
)

// SourceSpec describes the backing file a session should open against.
// A nil *SourceSpec passed to Open means "start from an empty document."
type SourceSpec struct {
	Kind SourceKind

	// AbsolutePath is required for SourceLocalFile; resolved and guarded
	// against symlink escape via docxsecurity.PathResolver.
	AbsolutePath string

	// ConnectionID/Path/FileID identify a SourceCloud source; the session
	// index records only "ConnectionID:Path" as the source URI, FileID is
	// not recorded. Source must carry the actual reader/writer, since the
	// core treats cloud backends as fully opaque.
	ConnectionID string
	Path         string
	FileID       string
	Source       sourceio.Source
}

// managedSession bundles one in-memory Session with the background lock
// renewal goroutine Manager started for it.
type managedSession struct {
	session   *Session
	stopRenew func()
}

// Manager is the session lifecycle orchestrator (C7): it wires C1–C6
// into open/apply_patch/undo/redo/jump_to/sync_external/check_external/
// close, one tenant's worth of sessions per instance.
type Manager struct {
	cfg         *docxconfig.Config
	tenantIndex *sessionindex.TenantIndex
	resolver    *docxsecurity.PathResolver
	log         docxlog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// ManagerOption customises Manager construction.
type ManagerOption func(*Manager)

// WithLogger overrides the default stdlib logger.
func WithLogger(l docxlog.Logger) ManagerOption {
	return func(m *Manager) { m.log = docxlog.OrDefault(l) }
}

// NewManager returns a Manager rooted at cfg.SessionsDir. cfg is copied and
// normalised; the caller's value is never mutated.
func NewManager(cfg *docxconfig.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, docxerr.New(docxerr.InvalidRequest, "config required")
	}
	normalized := *cfg
	normalized.Normalize()
	if err := os.MkdirAll(normalized.SessionsDir, 0o755); err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "create sessions root", err)
	}
	tenantBackend, err := docxstore.NewFileBackend(normalized.SessionsDir)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "create tenant backend", err)
	}

	m := &Manager{
		cfg:         &normalized,
		tenantIndex: sessionindex.NewTenantIndex(tenantBackend),
		resolver:    docxsecurity.NewPathResolver(),
		log:         docxlog.Default(),
		sessions:    make(map[string]*managedSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.cfg.SessionsDir, "sessions", id)
}

func (m *Manager) walDir(id string) string {
	return filepath.Join(m.sessionDir(id), "wal")
}

func (m *Manager) lockPath(id string) string {
	return filepath.Join(m.cfg.SessionsDir, "locks", id+".lock")
}

func (m *Manager) get(id string) (*managedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	return ms, ok
}

// Session exposes the underlying Session for read-only accessors
// (CursorPosition, WALLength, PendingExternalChange, Document). Mutating
// it directly bypasses Manager's bookkeeping and must not be done by
// callers outside this package.
func (m *Manager) Session(id string) (*Session, bool) {
	ms, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// ListSessions returns every session ID known to this tenant, including
// ones not currently resumed into memory.
func (m *Manager) ListSessions() ([]string, error) {
	return m.tenantIndex.List()
}

// CompactionSuggested reports whether the WAL has grown enough past its
// earliest retained checkpoint to warrant a caller-initiated compaction.
// The engine never compacts on its own; this is advisory only.
func (m *Manager) CompactionSuggested(id string) (bool, error) {
	ms, ok := m.get(id)
	if !ok {
		return false, docxerr.New(docxerr.NotFound, "unknown session "+id)
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := docxwal.Position(0)
	for i, p := range s.meta.CheckpointPositions {
		if i == 0 || p < earliest {
			earliest = p
		}
	}
	return s.meta.WALLength-int64(earliest) > m.cfg.WALCompactThreshold, nil
}

func (m *Manager) startRenewal(fl *lock.Lock) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(fl.RenewInterval())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fl.Renew(); err != nil {
					m.log.Printf("lock renew failed for %s: %v", fl.String(), err)
					return
				}
			}
		}
	}()
	return cancel
}

// persistAndIndex saves s's Meta as the authoritative record, then best-
// effort refreshes the derived tenant-wide index; a tenant-index write
// failure is logged, not returned, since per-session Meta remains correct
// and Resume never reads the tenant index.
func (m *Manager) persistAndIndex(s *Session) error {
	if err := s.persistMeta(); err != nil {
		return err
	}
	if err := m.tenantIndex.Upsert(s.id, s.meta); err != nil {
		m.log.Printf("session %s: tenant index upsert failed: %v", s.id, err)
	}
	return nil
}

func sessionAttrs(id string) []attribute.KeyValue {
	return telemetry.SanitizeAttributes(attribute.String("session_id", id))
}

// Open creates a new session, optionally backed by spec. A nil spec opens
// an empty document. Returns the new session's ID.
func (m *Manager) Open(ctx context.Context, spec *SourceSpec) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.Open")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	if mkErr := os.MkdirAll(filepath.Dir(m.lockPath(id)), 0o755); mkErr != nil {
		err = docxerr.Wrap(docxerr.StorageError, "create lock dir", mkErr)
		return "", err
	}
	holderID := lock.NewHolderID()
	flock := lock.New(m.lockPath(id), holderID, m.cfg.LockTTL)
	if lerr := flock.Acquire(m.cfg.LockAcquireTimeout); lerr != nil {
		err = lerr
		return "", err
	}

	backend, berr := docxstore.NewFileBackend(m.sessionDir(id))
	if berr != nil {
		flock.Release()
		err = docxerr.Wrap(docxerr.StorageError, "create session backend", berr)
		return "", err
	}

	var source sourceio.Source
	var descriptor *sessionindex.SourceDescriptor
	if spec != nil {
		source, descriptor, err = m.resolveSource(spec)
		if err != nil {
			flock.Release()
			return "", err
		}
	}

	var handle *content.Handle
	if source != nil {
		data, rerr := source.Read(ctx)
		if rerr != nil {
			flock.Release()
			err = rerr
			return "", err
		}
		handle, err = content.Load(data)
		if err != nil {
			flock.Release()
			return "", err
		}
		if fp, ferr := source.Fingerprint(ctx); ferr == nil {
			descriptor.Fingerprint = fp
		}
	} else {
		handle = content.NewEmpty()
	}

	checkpoints := checkpoint.New(backend)
	checkpointData, serr := handle.Save()
	if serr != nil {
		flock.Release()
		err = serr
		return "", err
	}
	if cerr := checkpoints.Save(0, checkpointData); cerr != nil {
		flock.Release()
		err = cerr
		return "", err
	}

	meta := sessionindex.New(id, descriptor, now())
	meta.RecordCheckpoint(0)
	idx := sessionindex.NewIndex(backend)
	if serr := idx.Save(meta); serr != nil {
		flock.Release()
		err = serr
		return "", err
	}

	wal, werr := docxwal.Open(m.walDir(id))
	if werr != nil {
		flock.Release()
		err = docxerr.Wrap(docxerr.StorageError, "open wal", werr)
		return "", err
	}

	sess := &Session{
		id:                 id,
		wal:                wal,
		checkpoints:        checkpoints,
		index:              idx,
		flock:              flock,
		source:             source,
		log:                m.log,
		checkpointInterval: m.cfg.CheckpointInterval,
		meta:               meta,
		handle:             handle,
	}

	if uerr := m.tenantIndex.Upsert(id, meta); uerr != nil {
		m.log.Printf("session %s: tenant index upsert failed: %v", id, uerr)
	}

	ms := &managedSession{session: sess, stopRenew: m.startRenewal(flock)}
	m.mu.Lock()
	m.sessions[id] = ms
	m.mu.Unlock()

	span.SetAttributes(sessionAttrs(id)...)
	return id, nil
}

func (m *Manager) resolveSource(spec *SourceSpec) (sourceio.Source, *sessionindex.SourceDescriptor, error) {
	switch spec.Kind {
	case SourceLocalFile:
		resolved, rerr := m.resolver.Resolve(spec.AbsolutePath)
		if rerr != nil {
			return nil, nil, docxerr.Wrap(docxerr.InvalidRequest, "resolve local source path", rerr)
		}
		return sourceio.NewLocalSource(resolved), &sessionindex.SourceDescriptor{Kind: "local", URI: resolved}, nil
	case SourceCloud:
		if spec.Source == nil {
			return nil, nil, docxerr.New(docxerr.InvalidRequest, "cloud source requires a pre-built reader/writer")
		}
		return spec.Source, &sessionindex.SourceDescriptor{Kind: "cloud", URI: spec.ConnectionID + ":" + spec.Path}, nil
	default:
		return nil, nil, docxerr.New(docxerr.InvalidRequest, "unknown source kind "+string(spec.Kind))
	}
}

// Resume reopens a session whose Meta already exists on disk (e.g. after a
// process restart), rebuilding the in-memory image at its last cursor
// position. cloudSource must be supplied when the recorded source
// descriptor is a cloud one; it is ignored for local/sourceless sessions.
// A session already resumed into this Manager is a no-op.
func (m *Manager) Resume(ctx context.Context, id string, cloudSource sourceio.Source) error {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.Resume", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	if _, ok := m.get(id); ok {
		return nil
	}

	backend, berr := docxstore.NewFileBackend(m.sessionDir(id))
	if berr != nil {
		err = docxerr.Wrap(docxerr.StorageError, "open session backend", berr)
		return err
	}
	idx := sessionindex.NewIndex(backend)
	meta, lerr := idx.Load()
	if lerr != nil {
		err = lerr
		return err
	}

	if mkErr := os.MkdirAll(filepath.Dir(m.lockPath(id)), 0o755); mkErr != nil {
		err = docxerr.Wrap(docxerr.StorageError, "create lock dir", mkErr)
		return err
	}
	holderID := lock.NewHolderID()
	flock := lock.New(m.lockPath(id), holderID, m.cfg.LockTTL)
	if aerr := flock.Acquire(m.cfg.LockAcquireTimeout); aerr != nil {
		err = aerr
		return err
	}

	wal, werr := docxwal.Open(m.walDir(id))
	if werr != nil {
		flock.Release()
		err = docxerr.Wrap(docxerr.StorageError, "open wal", werr)
		return err
	}

	var source sourceio.Source
	if meta.Source != nil {
		switch meta.Source.Kind {
		case "local":
			source = sourceio.NewLocalSource(meta.Source.URI)
		case "cloud":
			if cloudSource == nil {
				wal.Close()
				flock.Release()
				err = docxerr.New(docxerr.InvalidRequest, "resuming a cloud-backed session requires a reader/writer")
				return err
			}
			source = cloudSource
		}
	}

	sess := &Session{
		id:                 id,
		wal:                wal,
		checkpoints:        checkpoint.New(backend),
		index:              idx,
		flock:              flock,
		source:             source,
		log:                m.log,
		checkpointInterval: m.cfg.CheckpointInterval,
		meta:               meta,
	}
	handle, rerr := sess.rebuildAt(meta.CursorPosition)
	if rerr != nil {
		wal.Close()
		flock.Release()
		err = rerr
		return err
	}
	sess.handle = handle

	ms := &managedSession{session: sess, stopRenew: m.startRenewal(flock)}
	m.mu.Lock()
	m.sessions[id] = ms
	m.mu.Unlock()
	return nil
}

// ApplyPatch applies ops as a single batch: either every op succeeds and
// one WAL entry is appended per op, or the first failing op aborts the
// whole batch and the in-memory image is rolled back.
func (m *Manager) ApplyPatch(ctx context.Context, id string, ops []content.Op) (BatchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.ApplyPatch", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return BatchResult{}, err
	}
	if len(ops) == 0 || len(ops) > maxBatchOps {
		err = docxerr.New(docxerr.InvalidRequest, "batch must contain between 1 and 10 operations")
		return BatchResult{}, err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return BatchResult{}, err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta.PendingExternalChange {
		err = docxerr.New(docxerr.ExternalChangeBlocked, "session has a pending external change")
		return BatchResult{}, err
	}

	if s.meta.CursorPosition < docxwal.Position(s.meta.WALLength) {
		if terr := s.truncateTail(m.walDir(id), s.meta.CursorPosition); terr != nil {
			err = terr
			return BatchResult{}, err
		}
	}

	snapshot := s.handle.Clone()
	results := make([]OpResult, len(ops))
	failedIdx := -1
	for i, op := range ops {
		elementID, applyErr := s.handle.Apply(op)
		if applyErr != nil {
			failedIdx = i
			results[i] = OpResult{Index: i, Status: OpStatusError, Error: applyErr.Error()}
			break
		}
		results[i] = OpResult{Index: i, Status: OpStatusApplied, ElementID: elementID}
	}

	if failedIdx >= 0 {
		s.handle = snapshot
		for i := 0; i < failedIdx; i++ {
			results[i].Status = OpStatusWouldSucceed
		}
		for i := failedIdx + 1; i < len(ops); i++ {
			results[i] = OpResult{Index: i, Status: OpStatusNotAttempted}
		}
		return BatchResult{Success: false, Applied: 0, Total: len(ops), Operations: results}, nil
	}

	appliedAt := now()
	for _, op := range ops {
		if _, werr := s.wal.AppendPatch(op, appliedAt); werr != nil {
			err = docxerr.Wrap(docxerr.StorageError, "append wal entry", werr)
			return BatchResult{}, err
		}
	}
	s.meta.WALLength += int64(len(ops))
	s.meta.CursorPosition += docxwal.Position(len(ops))

	if cerr := s.maybeCheckpoint(); cerr != nil {
		err = cerr
		return BatchResult{}, err
	}
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return BatchResult{}, err
	}

	if m.cfg.AutoSave && s.source != nil {
		data, serr := s.handle.Save()
		if serr != nil {
			err = serr
			return BatchResult{}, err
		}
		if werr := s.source.Write(ctx, data); werr != nil {
			err = werr
			return BatchResult{}, err
		}
	}

	return BatchResult{Success: true, Applied: len(ops), Total: len(ops), Operations: results}, nil
}

// Undo moves the cursor back steps positions, rebuilding the image from
// the nearest checkpoint at or before the target and replaying the gap.
func (m *Manager) Undo(ctx context.Context, id string, steps int64) error {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.Undo", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	if steps < 0 {
		err = docxerr.New(docxerr.InvalidRequest, "steps must be non-negative")
		return err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.meta.CursorPosition - docxwal.Position(steps)
	if target < 0 {
		target = 0
	}

	h, rerr := s.rebuildAt(target)
	if rerr != nil {
		err = rerr
		return err
	}
	s.handle = h
	s.meta.CursorPosition = target
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return err
	}
	return nil
}

// Redo moves the cursor forward steps positions, replaying WAL entries
// directly onto the current image without rebuilding from a checkpoint.
func (m *Manager) Redo(ctx context.Context, id string, steps int64) error {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.Redo", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	if steps < 0 {
		err = docxerr.New(docxerr.InvalidRequest, "steps must be non-negative")
		return err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.meta.CursorPosition + docxwal.Position(steps)
	if target > docxwal.Position(s.meta.WALLength) {
		target = docxwal.Position(s.meta.WALLength)
	}

	if rerr := s.replayForward(s.handle, s.meta.CursorPosition, target); rerr != nil {
		err = rerr
		return err
	}
	s.meta.CursorPosition = target
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return err
	}
	return nil
}

// JumpTo moves the cursor to an absolute WAL position, clamped to
// [0, wal_length], using the undo algorithm when moving back and the redo
// algorithm when moving forward.
func (m *Manager) JumpTo(ctx context.Context, id string, position int64) error {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.JumpTo", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	target := docxwal.Position(position)
	if target < 0 {
		target = 0
	}
	if target > docxwal.Position(s.meta.WALLength) {
		target = docxwal.Position(s.meta.WALLength)
	}

	switch {
	case target < s.meta.CursorPosition:
		h, rerr := s.rebuildAt(target)
		if rerr != nil {
			err = rerr
			return err
		}
		s.handle = h
	case target > s.meta.CursorPosition:
		if rerr := s.replayForward(s.handle, s.meta.CursorPosition, target); rerr != nil {
			err = rerr
			return err
		}
	}
	s.meta.CursorPosition = target
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return err
	}
	return nil
}

// SyncExternal reconciles the in-memory image against the session's
// source: a no-op diff clears the pending flag; a non-empty diff
// transplants the source's bytes as the new image, recorded as a single
// external_sync WAL entry plus an unconditional checkpoint.
func (m *Manager) SyncExternal(ctx context.Context, id string) (ExternalSyncSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.SyncExternal", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return ExternalSyncSummary{}, err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return ExternalSyncSummary{}, err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		err = docxerr.New(docxerr.NotFound, "no source configured")
		return ExternalSyncSummary{}, err
	}

	data, rerr := s.source.Read(ctx)
	if rerr != nil {
		err = rerr
		return ExternalSyncSummary{}, err
	}
	externalHandle, lerr := content.Load(data)
	if lerr != nil {
		err = lerr
		return ExternalSyncSummary{}, err
	}

	result := diffengine.Compare(s.handle, externalHandle)
	result.Uncovered = diffengine.CompareParts(s.handle, externalHandle)

	if result.IsEmpty() {
		s.meta.PendingExternalChange = false
		if perr := m.persistAndIndex(s); perr != nil {
			err = perr
			return ExternalSyncSummary{}, err
		}
		return ExternalSyncSummary{}, nil
	}

	added, removed, modified, moved := result.Counts()
	summary := ExternalSyncSummary{
		Added:     added,
		Removed:   removed,
		Modified:  modified,
		Moved:     moved,
		Uncovered: result.UncoveredKinds(),
	}

	s.handle = externalHandle
	if _, werr := s.wal.AppendExternalSync(docxwal.ExternalSyncRecord{Summary: summary, SyncedAt: now(), Document: data}); werr != nil {
		err = docxerr.Wrap(docxerr.StorageError, "append external sync entry", werr)
		return ExternalSyncSummary{}, err
	}
	s.meta.WALLength++
	s.meta.CursorPosition++
	s.meta.PendingExternalChange = false

	if cerr := s.writeCheckpoint(); cerr != nil {
		err = cerr
		return ExternalSyncSummary{}, err
	}
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return ExternalSyncSummary{}, err
	}
	return summary, nil
}

// CheckExternal compares content digests without touching the WAL. A
// divergence sets pending_external_change and returns the transient diff;
// equality clears the flag. Idempotent either way.
func (m *Manager) CheckExternal(ctx context.Context, id string) (diffengine.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "docxsession.CheckExternal", oteltrace.WithAttributes(sessionAttrs(id)...))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return diffengine.Result{}, err
	}

	ms, ok := m.get(id)
	if !ok {
		err = docxerr.New(docxerr.NotFound, "unknown session "+id)
		return diffengine.Result{}, err
	}
	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		err = docxerr.New(docxerr.NotFound, "no source configured")
		return diffengine.Result{}, err
	}

	data, rerr := s.source.Read(ctx)
	if rerr != nil {
		err = rerr
		return diffengine.Result{}, err
	}
	externalHandle, lerr := content.Load(data)
	if lerr != nil {
		err = lerr
		return diffengine.Result{}, err
	}

	localDigest, derr := s.handle.Digest()
	if derr != nil {
		err = derr
		return diffengine.Result{}, err
	}
	externalDigest, derr2 := externalHandle.Digest()
	if derr2 != nil {
		err = derr2
		return diffengine.Result{}, err
	}

	if localDigest == externalDigest {
		s.meta.PendingExternalChange = false
		if perr := m.persistAndIndex(s); perr != nil {
			err = perr
			return diffengine.Result{}, err
		}
		return diffengine.Result{}, nil
	}

	result := diffengine.Compare(s.handle, externalHandle)
	result.Uncovered = diffengine.CompareParts(s.handle, externalHandle)
	s.meta.PendingExternalChange = true
	if perr := m.persistAndIndex(s); perr != nil {
		err = perr
		return diffengine.Result{}, err
	}
	return result, nil
}

// Close flushes the session's WAL and releases its cross-process lock,
// dropping the in-memory image. Persistent state survives on disk.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return docxerr.New(docxerr.NotFound, "unknown session "+id)
	}

	s := ms.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if ms.stopRenew != nil {
		ms.stopRenew()
	}

	var firstErr error
	if cerr := s.wal.Close(); cerr != nil && firstErr == nil {
		firstErr = docxerr.Wrap(docxerr.StorageError, "close wal", cerr)
	}
	if rerr := s.flock.Release(); rerr != nil && firstErr == nil {
		firstErr = rerr
	}
	return firstErr
}

// Delete removes a session's persistent state entirely: WAL, checkpoints,
// index, lock artifact, and its tenant-index entry. The session is closed
// first if still open; closing errors are ignored since deletion should
// proceed regardless of whether the in-memory handle was still resident.
func (m *Manager) Delete(ctx context.Context, id string) error {
	_ = m.Close(ctx, id)

	backend, err := docxstore.NewFileBackend(m.sessionDir(id))
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "open session dir for delete", err)
	}
	if err := backend.Delete("/"); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "delete session dir", err)
	}
	if err := os.Remove(m.lockPath(id)); err != nil && !os.IsNotExist(err) {
		return docxerr.Wrap(docxerr.StorageError, "remove lock artifact", err)
	}
	if err := m.tenantIndex.Remove(id); err != nil {
		return err
	}
	return nil
}
