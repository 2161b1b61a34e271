package ui

import (
	"sort"
	"strings"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/tree"
)

// Counts aggregates entry states under a directory.
type Counts struct {
	OnlyLocal  int
	OnlyRemote int
	Different  int
	Unknown    int
	MetaOnly   int
	Identical  int
	Conflicts  int
	Errors     int
	Chosen     int
}

// Pending reports whether anything under the directory needs review.
func (c Counts) Pending() bool {
	return c.OnlyLocal+c.OnlyRemote+c.Different+c.Unknown+c.MetaOnly+c.Errors > 0
}

// Add folds another set of counts in.
func (c *Counts) Add(o Counts) {
	c.OnlyLocal += o.OnlyLocal
	c.OnlyRemote += o.OnlyRemote
	c.Different += o.Different
	c.Unknown += o.Unknown
	c.MetaOnly += o.MetaOnly
	c.Identical += o.Identical
	c.Conflicts += o.Conflicts
	c.Errors += o.Errors
	c.Chosen += o.Chosen
}

// countOne classifies a single entry. Directory entries only count when
// they themselves differ, so an all-identical tree does not drown the
// folder badges in its own directory rows.
func countOne(e *diff.Entry) Counts {
	var c Counts
	if e.Kind == tree.KindDir &&
		e.ContentState == diff.ContentIdentical && e.MetadataState != diff.MetaDifferent {
		return c
	}
	switch e.ContentState {
	case diff.ContentOnlyLocal:
		c.OnlyLocal = 1
	case diff.ContentOnlyRemote:
		c.OnlyRemote = 1
	case diff.ContentDifferent:
		c.Different = 1
	case diff.ContentUnknown:
		c.Unknown = 1
	case diff.ContentIdentical:
		if e.MetadataState == diff.MetaDifferent {
			c.MetaOnly = 1
		} else {
			c.Identical = 1
		}
	}
	if e.Conflict {
		c.Conflicts = 1
	}
	if e.LastError != "" {
		c.Errors = 1
	}
	if e.UserAction != diff.ActionNone {
		c.Chosen = 1
	}
	return c
}

// Row is one visible line in the review browser.
type Row struct {
	Path   string
	Name   string
	Depth  int
	IsDir  bool
	Entry  *diff.Entry // nil for directories synthesized from paths
	Counts Counts      // aggregate for directories
}

// TreeView indexes entries by directory for the review browser.
type TreeView struct {
	byPath   map[string]*diff.Entry
	children map[string][]string // dir path ("" = root) to sorted child paths
	isDir    map[string]bool
	counts   map[string]Counts
}

// NewTreeView builds the directory index from a flat entry list.
func NewTreeView(entries []*diff.Entry) *TreeView {
	t := &TreeView{
		byPath:   make(map[string]*diff.Entry, len(entries)),
		children: make(map[string][]string),
		isDir:    map[string]bool{"": true},
		counts:   map[string]Counts{},
	}

	seen := map[string]bool{"": true}
	addChild := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		t.children[parentOf(path)] = append(t.children[parentOf(path)], path)
	}

	for _, e := range entries {
		t.byPath[e.Path] = e
		if e.Kind == tree.KindDir {
			t.isDir[e.Path] = true
		}
		// Materialize every ancestor so one-sided files deep in a tree
		// still hang off a browsable directory chain.
		for _, anc := range ancestors(e.Path) {
			t.isDir[anc] = true
			addChild(anc)
		}
		addChild(e.Path)

		c := countOne(e)
		t.counts[""] = addCounts(t.counts[""], c)
		for _, anc := range ancestors(e.Path) {
			t.counts[anc] = addCounts(t.counts[anc], c)
		}
		// A one-sided or changed directory shows up on its own badge.
		if e.Kind == tree.KindDir {
			t.counts[e.Path] = addCounts(t.counts[e.Path], c)
		}
	}

	for dir, kids := range t.children {
		sort.Slice(kids, func(i, j int) bool {
			di, dj := t.isDir[kids[i]], t.isDir[kids[j]]
			if di != dj {
				return di
			}
			return kids[i] < kids[j]
		})
		t.children[dir] = kids
	}
	return t
}

func addCounts(a, b Counts) Counts { a.Add(b); return a }

// Counts returns the aggregate for a directory ("" = whole run).
func (t *TreeView) Counts(dir string) Counts { return t.counts[dir] }

// Entry returns the scanned entry for a path, if any.
func (t *TreeView) Entry(path string) *diff.Entry { return t.byPath[path] }

// IsDir reports whether the path is browsed as a directory.
func (t *TreeView) IsDir(path string) bool { return t.isDir[path] }

// Flatten produces the visible rows for the current expansion state.
// With hideIdentical set, rows (and whole subtrees) with nothing
// pending are dropped.
func (t *TreeView) Flatten(expanded map[string]bool, hideIdentical bool) []Row {
	var rows []Row
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		for _, p := range t.children[dir] {
			if t.isDir[p] {
				c := t.counts[p]
				if hideIdentical && !c.Pending() {
					continue
				}
				rows = append(rows, Row{
					Path: p, Name: baseOf(p), Depth: depth,
					IsDir: true, Entry: t.byPath[p], Counts: c,
				})
				if expanded[p] {
					walk(p, depth+1)
				}
				continue
			}
			e := t.byPath[p]
			if e == nil {
				continue
			}
			if hideIdentical && !countOne(e).Pending() {
				continue
			}
			rows = append(rows, Row{Path: p, Name: baseOf(p), Depth: depth, Entry: e})
		}
	}
	walk("", 0)
	return rows
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func baseOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// ancestors lists the proper directory prefixes of a path, shallow
// first, excluding the root.
func ancestors(path string) []string {
	var out []string
	for i, r := range path {
		if r == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}
