package docxsession

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/docx-session-engine/pkg/content"
	"github.com/cexll/docx-session-engine/pkg/diffengine"
	"github.com/cexll/docx-session-engine/pkg/docxconfig"
	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxlog"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

func newManagerWithConfig(t *testing.T, mutate func(*docxconfig.Config)) *Manager {
	t.Helper()
	cfg := docxconfig.Default()
	cfg.SessionsDir = t.TempDir()
	cfg.CheckpointInterval = 10
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(&cfg, WithLogger(docxlog.Nop()))
	require.NoError(t, err)
	return m
}

func newTestManager(t *testing.T) *Manager {
	return newManagerWithConfig(t, nil)
}

func addParagraphOp(text string) content.Op {
	return content.Op{Kind: content.OpAdd, NewType: content.ElementParagraph, NewText: text}
}

func TestOpenAddUndoRedo(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	result, err := m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("Hello")})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Applied)

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.EqualValues(t, 1, sess.WALLength())
	require.EqualValues(t, 1, sess.CursorPosition())
	require.Len(t, sess.Document().Body, 1)

	require.NoError(t, m.Undo(ctx, id, 1))
	require.EqualValues(t, 0, sess.CursorPosition())
	require.Len(t, sess.Document().Body, 0)

	require.NoError(t, m.Redo(ctx, id, 1))
	require.EqualValues(t, 1, sess.CursorPosition())
	require.Len(t, sess.Document().Body, 1)
	require.Equal(t, "Hello", sess.Document().Body[0].FlatText())
}

func TestTenAddsUndoFiveThenNewAddTruncatesTail(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := m.ApplyPatch(ctx, id, []content.Op{addParagraphOp(fmt.Sprintf("p%d", i))})
		require.NoError(t, err)
	}

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.EqualValues(t, 10, sess.WALLength())
	require.Contains(t, sess.meta.CheckpointPositions, docxwal.Position(10))

	require.NoError(t, m.Undo(ctx, id, 5))
	require.EqualValues(t, 5, sess.CursorPosition())
	require.Len(t, sess.Document().Body, 5)

	_, err = m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("new")})
	require.NoError(t, err)

	require.EqualValues(t, 6, sess.WALLength())
	require.EqualValues(t, 6, sess.CursorPosition())
	require.NotContains(t, sess.meta.CheckpointPositions, docxwal.Position(10))
}

func TestApplyPatchBatchPartialFailureRollsBack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	ops := []content.Op{
		addParagraphOp("first"),
		{Kind: content.OpRemove, Path: "/body/paragraph[5]"},
		addParagraphOp("third"),
	}
	result, err := m.ApplyPatch(ctx, id, ops)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 0, result.Applied)
	require.Equal(t, 3, result.Total)
	require.Equal(t, OpStatusWouldSucceed, result.Operations[0].Status)
	require.Equal(t, OpStatusError, result.Operations[1].Status)
	require.Equal(t, OpStatusNotAttempted, result.Operations[2].Status)

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.EqualValues(t, 0, sess.WALLength())
	require.Len(t, sess.Document().Body, 0)
}

func TestApplyPatchTenIdenticalRemoveOpsRollsBack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	_, err = m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("only")})
	require.NoError(t, err)

	ops := make([]content.Op, 10)
	for i := range ops {
		ops[i] = content.Op{Kind: content.OpRemove, Path: "/body/paragraph[1]"}
	}
	result, err := m.ApplyPatch(ctx, id, ops)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, OpStatusWouldSucceed, result.Operations[0].Status)
	require.Equal(t, OpStatusError, result.Operations[1].Status)
	for i := 2; i < 10; i++ {
		require.Equal(t, OpStatusNotAttempted, result.Operations[i].Status, "op %d", i)
	}

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.EqualValues(t, 1, sess.WALLength())
	require.Len(t, sess.Document().Body, 1)
}

func TestExternalChangeDetectionBlocksAndSyncClears(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "doc.docx")
	empty := content.NewEmpty()
	data, err := empty.Save()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, data, 0o644))

	id, err := m.Open(ctx, &SourceSpec{Kind: SourceLocalFile, AbsolutePath: srcPath})
	require.NoError(t, err)

	sess, ok := m.Session(id)
	require.True(t, ok)

	externalDoc := sess.Document()
	externalDoc.Body = append(externalDoc.Body, &content.Element{
		ID:   "ext-1",
		Type: content.ElementParagraph,
		Paragraph: &content.Paragraph{
			Runs: []content.Run{{Text: "external"}},
		},
	})
	extData, err := externalDoc.Save()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, extData, 0o644))

	diffResult, err := m.CheckExternal(ctx, id)
	require.NoError(t, err)
	require.Len(t, diffResult.Changes, 1)
	require.Equal(t, diffengine.ChangeAdded, diffResult.Changes[0].Kind)
	require.True(t, sess.PendingExternalChange())

	_, err = m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("blocked")})
	require.Error(t, err)
	require.True(t, docxerr.Is(err, docxerr.ExternalChangeBlocked))

	summary, err := m.SyncExternal(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Added)

	require.False(t, sess.PendingExternalChange())
	require.Len(t, sess.Document().Body, 1)
	require.EqualValues(t, 1, sess.WALLength())
}

func TestSourcelessSessionHasNoExternalChangeSurface(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	_, err = m.CheckExternal(ctx, id)
	require.True(t, docxerr.Is(err, docxerr.NotFound))

	_, err = m.SyncExternal(ctx, id)
	require.True(t, docxerr.Is(err, docxerr.NotFound))

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.False(t, sess.PendingExternalChange())
}

func TestCloseAndResumeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	_, err = m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("persisted")})
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, id))
	_, ok := m.Session(id)
	require.False(t, ok)

	require.NoError(t, m.Resume(ctx, id, nil))
	sess, ok := m.Session(id)
	require.True(t, ok)
	require.EqualValues(t, 1, sess.CursorPosition())
	require.Len(t, sess.Document().Body, 1)
	require.Equal(t, "persisted", sess.Document().Body[0].FlatText())
}

func TestDeleteRemovesPersistentState(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, id))

	ids, err := m.ListSessions()
	require.NoError(t, err)
	require.Empty(t, ids)

	_, statErr := os.Stat(m.sessionDir(id))
	require.True(t, os.IsNotExist(statErr))
}

func TestResumeFailsWhenLockHeldByAnotherHolder(t *testing.T) {
	dir := t.TempDir()
	mutate := func(c *docxconfig.Config) {
		c.SessionsDir = dir
		c.LockAcquireTimeout = 50 * time.Millisecond
	}
	m1 := newManagerWithConfig(t, mutate)
	ctx := context.Background()

	id, err := m1.Open(ctx, nil)
	require.NoError(t, err)

	m2 := newManagerWithConfig(t, mutate)
	err = m2.Resume(ctx, id, nil)
	require.Error(t, err)
	require.True(t, docxerr.Is(err, docxerr.LockError))
}

func TestCompactionSuggested(t *testing.T) {
	m := newManagerWithConfig(t, func(c *docxconfig.Config) {
		c.WALCompactThreshold = 3
		c.CheckpointInterval = 100
	})
	ctx := context.Background()

	id, err := m.Open(ctx, nil)
	require.NoError(t, err)

	suggested, err := m.CompactionSuggested(id)
	require.NoError(t, err)
	require.False(t, suggested)

	for i := 0; i < 4; i++ {
		_, err := m.ApplyPatch(ctx, id, []content.Op{addParagraphOp("x")})
		require.NoError(t, err)
	}

	suggested, err = m.CompactionSuggested(id)
	require.NoError(t, err)
	require.True(t, suggested)
}
