package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/errors"
)

func TestDecodeEvent_KnownEvents(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"record", `{"event":"record","path":"a.txt","kind":"file","size":10,"mtime_ns":1,"mode":420}`, EventRecord},
		{"progress", `{"event":"progress","path":"docs","dirs_scanned":3,"files_seen":12}`, EventProgress},
		{"error", `{"event":"error","message":"permission denied","path":"locked"}`, EventError},
		{"done", `{"event":"done","dirs_scanned":9,"files_seen":40,"errors":1}`, EventDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Event)
		})
	}
}

func TestDecodeEvent_MalformedLine(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"record","path":`))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBadRecord, errors.GetCode(err))
}

func TestDecodeEvent_UnknownEvent(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"telemetry"}`))
	assert.Error(t, err)
}

func TestToNode_ValidatesRecords(t *testing.T) {
	tests := []struct {
		name string
		ev   WireEvent
		ok   bool
	}{
		{"valid file", WireEvent{Event: EventRecord, Path: "a/b.txt", Kind: "file", Size: 3}, true},
		{"valid dir", WireEvent{Event: EventRecord, Path: "a", Kind: "dir"}, true},
		{"valid symlink", WireEvent{Event: EventRecord, Path: "l", Kind: "symlink", LinkTarget: "a/b.txt"}, true},
		{"symlink without target", WireEvent{Event: EventRecord, Path: "l", Kind: "symlink"}, false},
		{"empty path", WireEvent{Event: EventRecord, Path: "", Kind: "file"}, false},
		{"absolute path", WireEvent{Event: EventRecord, Path: "/etc/passwd", Kind: "file"}, false},
		{"dotdot escape", WireEvent{Event: EventRecord, Path: "../secret", Kind: "file"}, false},
		{"unknown kind", WireEvent{Event: EventRecord, Path: "a", Kind: "door"}, false},
		{"negative size", WireEvent{Event: EventRecord, Path: "a", Kind: "file", Size: -1}, false},
		{"non-record event", WireEvent{Event: EventProgress, Path: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.ev.ToNode()
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.ev.Path, n.Path)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestToNode_MasksModeToPermissionBits(t *testing.T) {
	ev := WireEvent{Event: EventRecord, Path: "a", Kind: "file", Mode: 0o100644}
	n, err := ev.ToNode()
	require.NoError(t, err)
	assert.Equal(t, uint32(0o644), n.Mode)
}

func TestRecordEvent_RoundTrips(t *testing.T) {
	n := &Node{Path: "x/y", Kind: KindSymlink, MtimeNS: 7, Mode: 0o777,
		LinkTarget: "../z", LinkTargetKey: "inroot:z"}
	ev := RecordEvent(n)
	got, err := ev.ToNode()
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Depth(""))
	assert.Equal(t, 1, Depth("a"))
	assert.Equal(t, 3, Depth("a/b/c"))
}

func TestIsUnder(t *testing.T) {
	assert.True(t, IsUnder("a/b", "a"))
	assert.True(t, IsUnder("a", "a"))
	assert.True(t, IsUnder("anything", ""))
	assert.False(t, IsUnder("ab", "a"))
	assert.False(t, IsUnder("b/a", "a"))
}
