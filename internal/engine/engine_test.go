package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/ignore"
	"github.com/driftsync/driftsync/internal/scanner"
	"github.com/driftsync/driftsync/internal/state"
)

// harness reconciles two local directories, standing in for the
// local/remote pair.
type harness struct {
	eng         *Engine
	store       *state.Store
	left, right string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	left := t.TempDir()
	right := t.TempDir()

	cfg := config.Default()
	store, err := state.Open(left)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	leftEP, err := fsops.NewLocal(left)
	require.NoError(t, err)
	rightEP, err := fsops.NewLocal(right)
	require.NoError(t, err)

	mkMatcher := func() *ignore.Matcher {
		m, err := ignore.New(cfg.ExcludedDirs(), cfg.ExcludedFiles(), cfg.Exclude.Patterns)
		require.NoError(t, err)
		return m
	}
	leftSc, err := scanner.New(left, mkMatcher())
	require.NoError(t, err)
	rightSc, err := scanner.New(right, mkMatcher())
	require.NoError(t, err)

	return &harness{
		eng:   New(cfg, store, leftSc, rightSc, leftEP, rightEP),
		store: store,
		left:  left,
		right: right,
	}
}

func (h *harness) write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func byPath(entries []*diff.Entry) map[string]*diff.Entry {
	m := make(map[string]*diff.Entry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

func TestScanApplyRescanCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "docs/a.txt", "left only")
	h.write(t, h.right, "notes/b.txt", "right only")

	runID, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	m := byPath(entries)
	require.Contains(t, m, "docs/a.txt")
	assert.Equal(t, diff.ContentOnlyLocal, m["docs/a.txt"].ContentState)
	assert.Equal(t, diff.ActionSyncLocalToRemote, m["docs/a.txt"].RecommendedAction,
		"first run never recommends a delete")
	assert.Equal(t, diff.ActionSyncRemoteToLocal, m["notes/b.txt"].RecommendedAction)

	stats, err := h.eng.Apply(ctx, runID, entries)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)

	// Both sides converged; a re-run is identical+skip everywhere.
	_, entries, err = h.eng.Scan(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, diff.ContentIdentical, e.ContentState, "path %s", e.Path)
		assert.Equal(t, diff.ActionSkip, e.RecommendedAction, "path %s", e.Path)
	}

	data, err := os.ReadFile(filepath.Join(h.right, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "left only", string(data))
}

func TestBaselineDrivesDeleteCandidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "shared.txt", "same")
	h.write(t, h.right, "shared.txt", "same")

	_, _, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	// The file disappears on the right between runs.
	require.NoError(t, os.Remove(filepath.Join(h.right, "shared.txt")))

	_, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	m := byPath(entries)
	require.Contains(t, m, "shared.txt")
	e := m["shared.txt"]
	assert.Equal(t, diff.ContentOnlyLocal, e.ContentState)
	assert.Equal(t, diff.ActionManualDeleteLocal, e.RecommendedAction)
	assert.Equal(t, diff.HintDeletedOnRemote, e.DeleteHint)
	assert.False(t, e.Conflict)
}

func TestUserActionCarryForward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "conflict.txt", "left version with more bytes")
	h.write(t, h.right, "conflict.txt", "right version")

	runID, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)
	m := byPath(entries)
	require.True(t, m["conflict.txt"].Conflict)

	n, err := h.eng.SetUserAction(runID, "conflict.txt", diff.ActionSyncLocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Nothing changed on disk; the next run keeps the user's choice.
	_, entries, err = h.eng.Scan(ctx)
	require.NoError(t, err)
	m = byPath(entries)
	assert.Equal(t, diff.ActionSyncLocalToRemote, m["conflict.txt"].UserAction)
}

func TestApplyUpdatesStoreIncrementally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "a.txt", "content")

	runID, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	_, err = h.eng.Apply(ctx, runID, entries)
	require.NoError(t, err)

	stored, err := h.store.LoadEntries(runID)
	require.NoError(t, err)
	m := byPath(stored)
	require.Contains(t, m, "a.txt")
	assert.Equal(t, diff.ContentIdentical, m["a.txt"].ContentState)
	assert.Equal(t, diff.MetaIdentical, m["a.txt"].MetadataState)
}

func TestUserDeleteRemovesEntryAndFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "both.txt", "x")
	h.write(t, h.right, "both.txt", "x")
	// Make mtimes close enough to count identical.
	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(h.left, "both.txt"), now, now))
	require.NoError(t, os.Chtimes(filepath.Join(h.right, "both.txt"), now, now))

	_, _, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.right, "both.txt")))

	runID, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)
	m := byPath(entries)
	require.Equal(t, diff.ActionManualDeleteLocal, m["both.txt"].RecommendedAction)

	_, err = h.eng.SetUserAction(runID, "both.txt", diff.ActionManualDeleteLocal)
	require.NoError(t, err)
	entries, err = h.store.LoadEntries(runID)
	require.NoError(t, err)

	stats, err := h.eng.Apply(ctx, runID, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	_, statErr := os.Lstat(filepath.Join(h.left, "both.txt"))
	assert.True(t, os.IsNotExist(statErr))

	stored, err := h.store.LoadEntries(runID)
	require.NoError(t, err)
	assert.NotContains(t, byPath(stored), "both.txt", "deleted path leaves the snapshot")
}

func TestRescanSubtree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "sub/changed.txt", "v1")
	h.write(t, h.right, "sub/changed.txt", "v1")
	h.write(t, h.left, "outside.txt", "left only")

	_, _, err := h.eng.Scan(ctx)
	require.NoError(t, err)

	// Only the subtree changes on disk.
	h.write(t, h.left, "sub/changed.txt", "v2 with different size")

	entries, err := h.eng.RescanSubtree(ctx, "sub")
	require.NoError(t, err)
	m := byPath(entries)

	assert.Equal(t, diff.ContentDifferent, m["sub/changed.txt"].ContentState)
	assert.Contains(t, m, "outside.txt", "entries outside the scope are untouched")
	assert.Equal(t, diff.ContentOnlyLocal, m["outside.txt"].ContentState)
}

func TestScanExcludesStateDir(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, h.left, "real.txt", "x")

	_, entries, err := h.eng.Scan(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Path, ".driftsync", "state dir must never be scanned")
	}
}
