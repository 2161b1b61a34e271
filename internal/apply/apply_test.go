package apply

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/plan"
	"github.com/driftsync/driftsync/internal/tree"
)

func twoRoots(t *testing.T) (*fsops.LocalEndpoint, *fsops.LocalEndpoint) {
	t.Helper()
	local, err := fsops.NewLocal(t.TempDir())
	require.NoError(t, err)
	remote, err := fsops.NewLocal(t.TempDir())
	require.NoError(t, err)
	return local, remote
}

func writeFile(t *testing.T, ep *fsops.LocalEndpoint, path, content string, mode os.FileMode, mtimeNS int64) *tree.Node {
	t.Helper()
	require.NoError(t, ep.WriteFile(path, readerOf(content), mode))
	require.NoError(t, ep.Chtimes(path, mtimeNS))
	return &tree.Node{Path: path, Kind: tree.KindFile,
		Size: int64(len(content)), MtimeNS: mtimeNS, Mode: uint32(mode)}
}

func readerOf(s string) io.Reader { return &stringReader{s: s} }

type stringReader struct{ s string }

func (r *stringReader) Read(b []byte) (int, error) {
	if r.s == "" {
		return 0, io.EOF
	}
	n := copy(b, r.s)
	r.s = r.s[n:]
	return n, nil
}

func readAll(t *testing.T, ep *fsops.LocalEndpoint, path string) string {
	t.Helper()
	f, err := ep.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

const mtime = int64(1_700_000_000_000_000_000)

func TestRun_CopyToRemote(t *testing.T) {
	local, remote := twoRoots(t)
	node := writeFile(t, local, "a.txt", "hello", 0o640, mtime)

	e := New(local, remote, 2)
	p := plan.Build([]*diff.Entry{{
		Path: "a.txt", Kind: tree.KindFile,
		Local:             node,
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}})
	stats := e.Run(context.Background(), p)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, "hello", readAll(t, remote, "a.txt"))

	info, err := remote.Lstat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.Equal(t, mtime, info.ModTime().UnixNano())
}

func TestRun_MkdirBeforeChildCopy(t *testing.T) {
	local, remote := twoRoots(t)
	require.NoError(t, local.Mkdir("docs", 0o750))
	node := writeFile(t, local, "docs/a.txt", "x", 0o644, mtime)

	dirEntry := &diff.Entry{
		Path: "docs", Kind: tree.KindDir,
		Local:             &tree.Node{Path: "docs", Kind: tree.KindDir, Mode: 0o750},
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}
	fileEntry := &diff.Entry{
		Path: "docs/a.txt", Kind: tree.KindFile,
		Local:             node,
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}

	e := New(local, remote, 2)
	stats := e.Run(context.Background(), plan.Build([]*diff.Entry{fileEntry, dirEntry}))

	assert.Equal(t, 2, stats.Succeeded)
	info, err := remote.Lstat("docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	assert.Equal(t, "x", readAll(t, remote, "docs/a.txt"))
}

func TestRun_ApplyTimeRaceAbortsCopy(t *testing.T) {
	local, remote := twoRoots(t)
	srcNode := writeFile(t, local, "a.txt", "new content", 0o644, mtime)
	dstNode := writeFile(t, remote, "a.txt", "planned", 0o644, mtime)

	entry := &diff.Entry{
		Path: "a.txt", Kind: tree.KindFile,
		Local: srcNode, Remote: dstNode,
		ContentState:  diff.ContentDifferent,
		MetadataState: diff.MetaIdentical,
		UserAction:    diff.ActionSyncLocalToRemote,
	}
	p := plan.Build([]*diff.Entry{entry})

	// The destination mutates between plan and apply.
	writeFile(t, remote, "a.txt", "changed underneath", 0o644, mtime+int64(time.Second))

	var results []Result
	e := New(local, remote, 1)
	e.OnResult = func(r Result) { results = append(results, r) }
	stats := e.Run(context.Background(), p)

	assert.Equal(t, 1, stats.Failed)
	require.Len(t, results, 1)
	assert.Equal(t, errors.ErrCodeTargetChanged, errors.GetCode(results[0].Err))
	assert.Equal(t, "changed underneath", readAll(t, remote, "a.txt"),
		"no partial write on an aborted copy")
}

func TestRun_ChmodAppliesSourceMetadata(t *testing.T) {
	local, remote := twoRoots(t)
	srcNode := writeFile(t, local, "a.txt", "same", 0o600, mtime)
	writeFile(t, remote, "a.txt", "same", 0o644, mtime+5*int64(time.Minute))

	entry := &diff.Entry{
		Path: "a.txt", Kind: tree.KindFile,
		Local:             srcNode,
		Remote:            &tree.Node{Path: "a.txt", Kind: tree.KindFile, Size: 4, MtimeNS: mtime + 5*int64(time.Minute), Mode: 0o644},
		ContentState:      diff.ContentIdentical,
		MetadataState:     diff.MetaDifferent,
		MetadataDiff:      []string{diff.FieldMode, diff.FieldMtime},
		MetaSource:        diff.SideLocal,
		RecommendedAction: diff.ActionMetaLocalToRemote,
	}

	e := New(local, remote, 1)
	stats := e.Run(context.Background(), plan.Build([]*diff.Entry{entry}))
	assert.Equal(t, 1, stats.Succeeded)

	info, err := remote.Lstat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, mtime, info.ModTime().UnixNano())
}

func TestRun_DeleteOnlyTargetSide(t *testing.T) {
	local, remote := twoRoots(t)
	writeFile(t, remote, "gone.txt", "x", 0o644, mtime)

	entry := &diff.Entry{
		Path: "gone.txt", Kind: tree.KindFile,
		Remote:            &tree.Node{Path: "gone.txt", Kind: tree.KindFile, Size: 1, MtimeNS: mtime, Mode: 0o644},
		ContentState:      diff.ContentOnlyRemote,
		MetadataState:     diff.MetaNotApplicable,
		DeleteHint:        diff.HintDeletedOnLocal,
		RecommendedAction: diff.ActionManualDeleteRemote,
		UserAction:        diff.ActionManualDeleteRemote,
	}

	e := New(local, remote, 1)
	stats := e.Run(context.Background(), plan.Build([]*diff.Entry{entry}))
	assert.Equal(t, 1, stats.Succeeded)

	_, err := remote.Lstat("gone.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestRun_SymlinkCopyMapsTarget(t *testing.T) {
	local, remote := twoRoots(t)
	require.NoError(t, local.Mkdir("notes", 0o755))
	writeFile(t, local, "notes/a.txt", "x", 0o644, mtime)
	// Absolute in-root target on the source side.
	require.NoError(t, local.Symlink(local.Root()+"/notes/a.txt", "link"))

	entry := &diff.Entry{
		Path: "link", Kind: tree.KindSymlink,
		Local: &tree.Node{Path: "link", Kind: tree.KindSymlink,
			LinkTarget: local.Root() + "/notes/a.txt", LinkTargetKey: "inroot:notes/a.txt"},
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}

	e := New(local, remote, 1)
	stats := e.Run(context.Background(), plan.Build([]*diff.Entry{entry}))
	assert.Equal(t, 1, stats.Succeeded)

	target, err := remote.Readlink("link")
	require.NoError(t, err)
	assert.Equal(t, "notes/a.txt", target, "in-root target becomes relative on the destination")
}

func TestRun_ContinuesPastFailures(t *testing.T) {
	local, remote := twoRoots(t)
	good := writeFile(t, local, "good.txt", "ok", 0o644, mtime)

	missing := &diff.Entry{
		Path: "missing.txt", Kind: tree.KindFile,
		Local: &tree.Node{Path: "missing.txt", Kind: tree.KindFile, Size: 2, MtimeNS: mtime, Mode: 0o644},
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}
	ok := &diff.Entry{
		Path: "good.txt", Kind: tree.KindFile,
		Local:             good,
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}

	e := New(local, remote, 1)
	stats := e.Run(context.Background(), plan.Build([]*diff.Entry{missing, ok}))

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, "ok", readAll(t, remote, "good.txt"))
}

func TestRun_CancellationSkipsRemainder(t *testing.T) {
	local, remote := twoRoots(t)
	node := writeFile(t, local, "a.txt", "x", 0o644, mtime)

	entry := &diff.Entry{
		Path: "a.txt", Kind: tree.KindFile,
		Local:             node,
		ContentState:      diff.ContentOnlyLocal,
		MetadataState:     diff.MetaNotApplicable,
		RecommendedAction: diff.ActionSyncLocalToRemote,
	}
	p := plan.Build([]*diff.Entry{entry})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(local, remote, 1)
	stats := e.Run(ctx, p)
	assert.Zero(t, stats.Succeeded)
	assert.Equal(t, 1, stats.Skipped)

	_, err := remote.Lstat("a.txt")
	assert.True(t, os.IsNotExist(err), "nothing scheduled after cancellation")
}
