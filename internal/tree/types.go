// Package tree defines the normalized node records produced by tree
// scanners and the scanner contract both the local walker and the remote
// helper stream implement.
package tree

import (
	"context"
)

// Kind is the node type of a scanned path.
type Kind string

const (
	// KindFile is a regular file.
	KindFile Kind = "file"
	// KindDir is a directory.
	KindDir Kind = "dir"
	// KindSymlink is a symbolic link. Symlinks are recorded as their own
	// kind and never followed.
	KindSymlink Kind = "symlink"
)

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindDir, KindSymlink:
		return true
	}
	return false
}

// Node is one scanned path on one side. Nodes are produced fresh every
// scan and discarded after comparison.
type Node struct {
	// Path is slash-separated and relative to the scan root.
	Path string

	// Kind is file, dir or symlink.
	Kind Kind

	// Size in bytes; meaningful for files only.
	Size int64

	// MtimeNS is the modification time in nanoseconds since the epoch.
	MtimeNS int64

	// Mode holds the permission bits only.
	Mode uint32

	// LinkTarget is the raw symlink target (symlinks only).
	LinkTarget string

	// LinkTargetKey is the normalized compare key for the target, so
	// equivalent links rooted on different hosts compare equal.
	LinkTargetKey string

	// Owner and Group are informative only. They never drive comparison
	// or planning.
	Owner string
	Group string
}

// ScanResult carries one node or one path-scoped scan error.
// A path-scoped error never terminates the stream.
type ScanResult struct {
	Node *Node
	Err  error
}

// ScanOptions scopes a scan.
type ScanOptions struct {
	// Subtree restricts the scan to one root-relative directory.
	// Ignore rules of ancestor directories are still honored.
	// Empty means the whole root.
	Subtree string

	// Progress, when non-nil, is called at most every ProgressEvery with
	// the directory currently being walked and running counters.
	Progress func(relDir string, dirsScanned, filesSeen int)
}

// Scanner produces a lazy, finite, non-restartable stream of node records
// for one root. A directory's record precedes its children's records, and
// excluded subtrees are pruned before descent.
type Scanner interface {
	Scan(ctx context.Context, opts ScanOptions) (<-chan ScanResult, error)
}

// Stats summarizes one completed scan.
type Stats struct {
	DirsScanned int
	FilesSeen   int
	Errors      int
}
