package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/ignore"
	"github.com/driftsync/driftsync/internal/tree"
)

func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

func collect(t *testing.T, s *Local, opts tree.ScanOptions) (map[string]*tree.Node, []string) {
	t.Helper()
	results, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)

	nodes := make(map[string]*tree.Node)
	var order []string
	for r := range results {
		require.NoError(t, r.Err)
		nodes[r.Node.Path] = r.Node
		order = append(order, r.Node.Path)
	}
	return nodes, order
}

func newScanner(t *testing.T, root string) *Local {
	t.Helper()
	m, err := ignore.New([]string{"node_modules", ".driftsync"}, []string{".DS_Store"}, nil)
	require.NoError(t, err)
	s, err := New(root, m)
	require.NoError(t, err)
	return s
}

func TestScan_EmitsDirBeforeChildren(t *testing.T) {
	root := buildTree(t, map[string]string{
		"docs/guide/a.md": "a",
		"docs/b.md":       "b",
		"top.txt":         "t",
	})
	s := newScanner(t, root)

	nodes, order := collect(t, s, tree.ScanOptions{})

	require.Contains(t, nodes, "docs")
	require.Contains(t, nodes, "docs/guide")
	require.Contains(t, nodes, "docs/guide/a.md")
	assert.Equal(t, tree.KindDir, nodes["docs"].Kind)
	assert.Equal(t, tree.KindFile, nodes["top.txt"].Kind)
	assert.Equal(t, int64(1), nodes["docs/b.md"].Size)

	pos := make(map[string]int, len(order))
	for i, p := range order {
		pos[p] = i
	}
	assert.Less(t, pos["docs"], pos["docs/b.md"])
	assert.Less(t, pos["docs"], pos["docs/guide"])
	assert.Less(t, pos["docs/guide"], pos["docs/guide/a.md"])
}

func TestScan_PrunesStaticDirNames(t *testing.T) {
	root := buildTree(t, map[string]string{
		"node_modules/pkg/index.js": "x",
		"src/app.js":                "y",
		"src/.DS_Store":             "junk",
	})
	s := newScanner(t, root)

	nodes, _ := collect(t, s, tree.ScanOptions{})

	assert.NotContains(t, nodes, "node_modules")
	assert.NotContains(t, nodes, "node_modules/pkg/index.js")
	assert.NotContains(t, nodes, "src/.DS_Store")
	assert.Contains(t, nodes, "src/app.js")
}

func TestScan_HonorsNestedIgnoreFiles(t *testing.T) {
	root := buildTree(t, map[string]string{
		".driftignore":       "*.log\n",
		"a/server.log":       "x",
		"a/.driftignore":     "!keep.log\n",
		"a/keep.log":         "x",
		"a/app.txt":          "x",
		"unrelated/trace.log": "x",
	})
	s := newScanner(t, root)

	nodes, _ := collect(t, s, tree.ScanOptions{})

	assert.NotContains(t, nodes, "a/server.log")
	assert.NotContains(t, nodes, "unrelated/trace.log")
	assert.Contains(t, nodes, "a/keep.log", "deeper negation re-includes")
	assert.Contains(t, nodes, "a/app.txt")
}

func TestScan_SubtreeScoped(t *testing.T) {
	root := buildTree(t, map[string]string{
		".driftignore": "*.bak\n",
		"a/b/file.txt": "x",
		"a/b/old.bak":  "x",
		"a/other.txt":  "x",
		"c/out.txt":    "x",
	})
	s := newScanner(t, root)

	nodes, _ := collect(t, s, tree.ScanOptions{Subtree: "a/b"})

	assert.Contains(t, nodes, "a/b")
	assert.Contains(t, nodes, "a/b/file.txt")
	assert.NotContains(t, nodes, "a/other.txt")
	assert.NotContains(t, nodes, "c/out.txt")
	assert.NotContains(t, nodes, "a/b/old.bak", "ancestor rules apply inside the subtree")
}

func TestScan_MissingSubtreeYieldsEmptyStream(t *testing.T) {
	root := buildTree(t, map[string]string{"a.txt": "x"})
	s := newScanner(t, root)

	nodes, _ := collect(t, s, tree.ScanOptions{Subtree: "gone"})
	assert.Empty(t, nodes)
}

func TestScan_RecordsSymlinkWithoutFollowing(t *testing.T) {
	root := buildTree(t, map[string]string{"notes/a.txt": "x"})
	require.NoError(t, os.Symlink("notes/a.txt", filepath.Join(root, "link")))
	require.NoError(t, os.Symlink("/etc/hosts", filepath.Join(root, "abs-link")))
	s := newScanner(t, root)

	nodes, _ := collect(t, s, tree.ScanOptions{})

	require.Contains(t, nodes, "link")
	assert.Equal(t, tree.KindSymlink, nodes["link"].Kind)
	assert.Equal(t, "notes/a.txt", nodes["link"].LinkTarget)
	assert.Equal(t, "inroot:notes/a.txt", nodes["link"].LinkTargetKey)

	require.Contains(t, nodes, "abs-link")
	assert.Equal(t, "abs:/etc/hosts", nodes["abs-link"].LinkTargetKey)
}

func TestScan_CancelStopsStream(t *testing.T) {
	root := buildTree(t, map[string]string{"a.txt": "x", "b.txt": "y"})
	s := newScanner(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := s.Scan(ctx, tree.ScanOptions{})
	require.NoError(t, err)
	for range results {
	}
	// Channel closed without hanging is the assertion.
}

func TestNew_RejectsMissingRoot(t *testing.T) {
	m, err := ignore.New(nil, nil, nil)
	require.NoError(t, err)
	_, err = New(filepath.Join(t.TempDir(), "nope"), m)
	assert.Error(t, err)
}
