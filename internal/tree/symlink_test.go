package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetCompareKey(t *testing.T) {
	const (
		root = "/home/sam/data"
		home = "/home/sam"
	)

	tests := []struct {
		name    string
		relpath string
		target  string
		want    string
	}{
		{"relative inside root", "docs/link", "../notes/a.txt", "inroot:notes/a.txt"},
		{"absolute inside root", "docs/link", "/home/sam/data/notes/a.txt", "inroot:notes/a.txt"},
		{"absolute inside home", "docs/link", "/home/sam/.bashrc", "home:.bashrc"},
		{"absolute elsewhere", "docs/link", "/etc/hosts", "abs:/etc/hosts"},
		{"relative escaping root", "docs/link", "../../../other/x", "rel:../../../other/x"},
		{"sibling file", "link", "a.txt", "inroot:a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetCompareKey(tt.relpath, tt.target, root, home)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetCompareKey_EquivalentAcrossRoots(t *testing.T) {
	// The same logical link on two different roots must share a key.
	left := TargetCompareKey("docs/link", "../notes/a.txt", "/home/sam/data", "/home/sam")
	right := TargetCompareKey("docs/link", "/srv/mirror/notes/a.txt", "/srv/mirror", "/root")
	assert.Equal(t, left, right)
}

func TestMapTargetForDestination_InRootBecomesRelative(t *testing.T) {
	got := MapTargetForDestination(
		"/home/sam/data", "/home/sam",
		"docs/link", "/home/sam/data/notes/a.txt",
		"/srv/mirror", "/root",
	)
	assert.Equal(t, "../notes/a.txt", got)
}

func TestMapTargetForDestination_HomeReanchored(t *testing.T) {
	got := MapTargetForDestination(
		"/home/sam/data", "/home/sam",
		"docs/link", "/home/sam/.config/app",
		"/srv/mirror", "/home/backup",
	)
	assert.Equal(t, "/home/backup/.config/app", got)
}

func TestMapTargetForDestination_ForeignAbsoluteUnchanged(t *testing.T) {
	got := MapTargetForDestination(
		"/home/sam/data", "/home/sam",
		"docs/link", "/etc/hosts",
		"/srv/mirror", "/root",
	)
	assert.Equal(t, "/etc/hosts", got)
}

func TestMapTargetForDestination_EscapingRelativeUnchanged(t *testing.T) {
	got := MapTargetForDestination(
		"/home/sam/data", "/home/sam",
		"docs/link", "../../../opt/x",
		"/srv/mirror", "/root",
	)
	assert.Equal(t, "../../../opt/x", got)
}

func TestRelSlash(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"/a/b", "/a/b/c", "c"},
		{"/a/b", "/a/c", "../c"},
		{"/a/b/c", "/a", "../.."},
		{"/a", "/a", "."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relSlash(tt.base, tt.target), "rel(%s, %s)", tt.base, tt.target)
	}
}
