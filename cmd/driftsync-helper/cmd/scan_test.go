package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/tree"
)

func decodeStream(t *testing.T, buf *bytes.Buffer) []*tree.WireEvent {
	t.Helper()
	var events []*tree.WireEvent
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		ev, err := tree.DecodeEvent(sc.Bytes())
		require.NoError(t, err, "line %q", sc.Text())
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestRunScan_StreamsRecordsAndDone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runScan(context.Background(), &buf, root, ""))

	events := decodeStream(t, &buf)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, tree.EventDone, last.Event)
	assert.Equal(t, 1, last.DirsScanned)
	assert.Equal(t, 2, last.FilesSeen)

	var paths []string
	for _, ev := range events {
		if ev.Event == tree.EventRecord {
			paths = append(paths, ev.Path)
		}
	}
	assert.Equal(t, []string{"docs", "docs/a.txt", "top.txt"}, paths)
}

func TestRunScan_AppliesBuiltinExclusions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".driftsync"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".driftsync", "state.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runScan(context.Background(), &buf, root, ""))

	for _, ev := range decodeStream(t, &buf) {
		if ev.Event == tree.EventRecord {
			assert.NotContains(t, ev.Path, ".driftsync")
		}
	}
}

func TestRunScan_SubtreeOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "in"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "in", "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runScan(context.Background(), &buf, root, "in"))

	var paths []string
	for _, ev := range decodeStream(t, &buf) {
		if ev.Event == tree.EventRecord {
			paths = append(paths, ev.Path)
		}
	}
	assert.Equal(t, []string{"in", "in/a.txt"}, paths)
}

func TestRunScan_MissingRootFails(t *testing.T) {
	var buf bytes.Buffer
	err := runScan(context.Background(), &buf, filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}
