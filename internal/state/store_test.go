package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/tree"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntry(path string, cs diff.ContentState) *diff.Entry {
	e := &diff.Entry{
		Path:          path,
		Kind:          tree.KindFile,
		ContentState:  cs,
		MetadataState: diff.MetaIdentical,
	}
	if cs != diff.ContentOnlyRemote {
		e.Local = &tree.Node{Path: path, Kind: tree.KindFile, Size: 3, MtimeNS: 111, Mode: 0o644}
	}
	if cs != diff.ContentOnlyLocal {
		e.Remote = &tree.Node{Path: path, Kind: tree.KindFile, Size: 3, MtimeNS: 222, Mode: 0o600}
	}
	return e
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	runID, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, StatusRunning, latest.Status)

	stats := RunStats{DirsScannedLocal: 2, FilesSeenLocal: 9, DirsScannedRemote: 3, FilesSeenRemote: 8}
	require.NoError(t, s.FinishRun(runID, stats, StatusDone))

	latest, err = s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, StatusDone, latest.Status)
	assert.Equal(t, stats, latest.Stats)
}

func TestSaveAndLoadEntries(t *testing.T) {
	s := openStore(t)
	runID, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)

	in := sampleEntry("a/b.txt", diff.ContentDifferent)
	in.Conflict = true
	in.MetadataDiff = []string{diff.FieldMode}
	in.MetaSource = diff.SideRemote
	in.RecommendedAction = diff.ActionSkip
	require.NoError(t, s.SaveEntries(runID, []*diff.Entry{in, sampleEntry("c", diff.ContentOnlyLocal)}))

	out, err := s.LoadEntries(runID)
	require.NoError(t, err)
	require.Len(t, out, 2)

	got := out[0]
	assert.Equal(t, "a/b.txt", got.Path)
	assert.True(t, got.Conflict)
	assert.Equal(t, []string{diff.FieldMode}, got.MetadataDiff)
	assert.Equal(t, diff.SideRemote, got.MetaSource)
	require.NotNil(t, got.Local)
	assert.Equal(t, int64(111), got.Local.MtimeNS)
	require.NotNil(t, got.Remote)
	assert.Equal(t, uint32(0o600), got.Remote.Mode)

	onlyLocal := out[1]
	assert.Nil(t, onlyLocal.Remote, "absent side stays nil")
	require.NotNil(t, onlyLocal.Local)
}

func TestBaseline(t *testing.T) {
	s := openStore(t)

	first, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	require.NoError(t, s.SaveEntries(first, []*diff.Entry{
		sampleEntry("a", diff.ContentIdentical),
		sampleEntry("b", diff.ContentOnlyLocal),
	}))
	require.NoError(t, s.FinishRun(first, RunStats{}, StatusDone))

	second, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)

	baseRun, err := s.BaselineRun(second)
	require.NoError(t, err)
	require.NotNil(t, baseRun)
	assert.Equal(t, first, baseRun.ID)

	states, err := s.BaselineStates(baseRun.ID)
	require.NoError(t, err)
	assert.Equal(t, diff.ContentIdentical, states["a"])
	assert.Equal(t, diff.ContentOnlyLocal, states["b"])
}

func TestBaseline_EmptyStore(t *testing.T) {
	s := openStore(t)
	run, err := s.BaselineRun("whatever")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestCarryForwardUserActions(t *testing.T) {
	s := openStore(t)

	first, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	kept := sampleEntry("keep.txt", diff.ContentDifferent)
	kept.UserAction = diff.ActionSyncLocalToRemote
	changed := sampleEntry("changed.txt", diff.ContentDifferent)
	changed.UserAction = diff.ActionSyncRemoteToLocal
	require.NoError(t, s.SaveEntries(first, []*diff.Entry{kept, changed}))
	require.NoError(t, s.FinishRun(first, RunStats{}, StatusDone))

	second, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	require.NoError(t, s.SaveEntries(second, []*diff.Entry{
		sampleEntry("keep.txt", diff.ContentDifferent),  // same diff: action carries
		sampleEntry("changed.txt", diff.ContentOnlyLocal), // state changed: action dropped
	}))
	require.NoError(t, s.CarryForwardUserActions(first, second))

	out, err := s.LoadEntries(second)
	require.NoError(t, err)
	byPath := map[string]*diff.Entry{}
	for _, e := range out {
		byPath[e.Path] = e
	}
	assert.Equal(t, diff.ActionSyncLocalToRemote, byPath["keep.txt"].UserAction)
	assert.Equal(t, diff.ActionNone, byPath["changed.txt"].UserAction)
}

func TestSetUserAction_Subtree(t *testing.T) {
	s := openStore(t)
	runID, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	require.NoError(t, s.SaveEntries(runID, []*diff.Entry{
		sampleEntry("docs", diff.ContentOnlyLocal),
		sampleEntry("docs/a.txt", diff.ContentOnlyLocal),
		sampleEntry("docs/sub/b.txt", diff.ContentOnlyLocal),
		sampleEntry("docsother.txt", diff.ContentOnlyLocal),
	}))

	n, err := s.SetUserAction(runID, "docs", diff.ActionSyncLocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "prefix must not capture sibling docsother.txt")

	out, err := s.LoadEntries(runID)
	require.NoError(t, err)
	for _, e := range out {
		if e.Path == "docsother.txt" {
			assert.Equal(t, diff.ActionNone, e.UserAction)
		} else {
			assert.Equal(t, diff.ActionSyncLocalToRemote, e.UserAction)
		}
	}
}

func TestPostApplyUpdates(t *testing.T) {
	s := openStore(t)
	runID, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	require.NoError(t, s.SaveEntries(runID, []*diff.Entry{
		sampleEntry("copied.txt", diff.ContentOnlyLocal),
		sampleEntry("deleted.txt", diff.ContentOnlyRemote),
		sampleEntry("failed.txt", diff.ContentDifferent),
	}))

	require.NoError(t, s.MarkResolved(runID, "copied.txt"))
	require.NoError(t, s.RemoveEntry(runID, "deleted.txt"))
	require.NoError(t, s.RecordApplyFailure(runID, "failed.txt", "copy failed: disk full"))

	out, err := s.LoadEntries(runID)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byPath := map[string]*diff.Entry{}
	for _, e := range out {
		byPath[e.Path] = e
	}
	assert.Equal(t, diff.ContentIdentical, byPath["copied.txt"].ContentState)
	assert.Equal(t, diff.MetaIdentical, byPath["copied.txt"].MetadataState)
	assert.Contains(t, byPath["failed.txt"].LastError, "disk full")
	assert.Equal(t, diff.ContentDifferent, byPath["failed.txt"].ContentState, "failed op stays pending")
}

func TestReplaceSubtree(t *testing.T) {
	s := openStore(t)
	runID, err := s.BeginRun("/l", "/r")
	require.NoError(t, err)
	require.NoError(t, s.SaveEntries(runID, []*diff.Entry{
		sampleEntry("sub/a.txt", diff.ContentDifferent),
		sampleEntry("sub/gone.txt", diff.ContentOnlyLocal),
		sampleEntry("outside.txt", diff.ContentDifferent),
	}))

	require.NoError(t, s.ReplaceSubtree(runID, "sub", []*diff.Entry{
		sampleEntry("sub/a.txt", diff.ContentIdentical),
	}))

	out, err := s.LoadEntries(runID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	byPath := map[string]*diff.Entry{}
	for _, e := range out {
		byPath[e.Path] = e
	}
	assert.Equal(t, diff.ContentIdentical, byPath["sub/a.txt"].ContentState)
	assert.Contains(t, byPath, "outside.txt")
	assert.NotContains(t, byPath, "sub/gone.txt")
}

func TestPrefs(t *testing.T) {
	s := openStore(t)

	v, err := s.GetPref("hide_identical", "false")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	require.NoError(t, s.SetPref("hide_identical", "true"))
	v, err = s.GetPref("hide_identical", "false")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestOpen_SecondWriterLockedOut(t *testing.T) {
	root := t.TempDir()
	first, err := Open(root)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	_, err = Open(root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStateLocked, errors.GetCode(err))
	assert.True(t, errors.IsFatal(err))
}
