package tree

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftsync/driftsync/internal/errors"
)

// Wire event types emitted by the remote helper, one JSON object per line.
const (
	EventRecord   = "record"
	EventProgress = "progress"
	EventError    = "error"
	EventDone     = "done"
)

// WireEvent is one line of the helper's record stream. The stream is
// consumed incrementally, never buffered as one document.
type WireEvent struct {
	Event string `json:"event"`

	// record fields
	Path          string `json:"path,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Size          int64  `json:"size,omitempty"`
	MtimeNS       int64  `json:"mtime_ns,omitempty"`
	Mode          uint32 `json:"mode,omitempty"`
	LinkTarget    string `json:"link_target,omitempty"`
	LinkTargetKey string `json:"link_target_key,omitempty"`
	Owner         string `json:"owner,omitempty"`
	Group         string `json:"group,omitempty"`

	// error fields
	Message string `json:"message,omitempty"`

	// progress / done counters
	DirsScanned int `json:"dirs_scanned,omitempty"`
	FilesSeen   int `json:"files_seen,omitempty"`
	Errors      int `json:"errors,omitempty"`
}

// DecodeEvent parses one stream line. A malformed line is a per-path
// quarantine case for the caller, not a stream abort.
func DecodeEvent(line []byte) (*WireEvent, error) {
	var ev WireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, errors.New(errors.ErrCodeBadRecord, "malformed stream line", err)
	}
	switch ev.Event {
	case EventRecord, EventProgress, EventError, EventDone:
		return &ev, nil
	default:
		return nil, errors.New(errors.ErrCodeBadRecord,
			fmt.Sprintf("unknown stream event %q", ev.Event), nil)
	}
}

// ToNode validates a record event at the scanner boundary and converts it
// into a Node. Records that fail validation are rejected per-path.
func (e *WireEvent) ToNode() (*Node, error) {
	if e.Event != EventRecord {
		return nil, errors.New(errors.ErrCodeBadRecord,
			fmt.Sprintf("event %q is not a record", e.Event), nil)
	}
	if err := ValidatePath(e.Path); err != nil {
		return nil, err
	}
	kind := Kind(e.Kind)
	if !kind.Valid() {
		return nil, errors.New(errors.ErrCodeBadRecord,
			fmt.Sprintf("unknown node kind %q", e.Kind), nil).WithPath(e.Path)
	}
	if e.Size < 0 {
		return nil, errors.New(errors.ErrCodeBadRecord, "negative size", nil).WithPath(e.Path)
	}
	if kind == KindSymlink && e.LinkTarget == "" {
		return nil, errors.New(errors.ErrCodeBadRecord, "symlink record without target", nil).WithPath(e.Path)
	}

	return &Node{
		Path:          e.Path,
		Kind:          kind,
		Size:          e.Size,
		MtimeNS:       e.MtimeNS,
		Mode:          e.Mode & 0o7777,
		LinkTarget:    e.LinkTarget,
		LinkTargetKey: e.LinkTargetKey,
		Owner:         e.Owner,
		Group:         e.Group,
	}, nil
}

// RecordEvent builds the wire event for one node.
func RecordEvent(n *Node) WireEvent {
	return WireEvent{
		Event:         EventRecord,
		Path:          n.Path,
		Kind:          string(n.Kind),
		Size:          n.Size,
		MtimeNS:       n.MtimeNS,
		Mode:          n.Mode,
		LinkTarget:    n.LinkTarget,
		LinkTargetKey: n.LinkTargetKey,
		Owner:         n.Owner,
		Group:         n.Group,
	}
}

// ValidatePath checks a root-relative slash path from an untrusted record.
func ValidatePath(p string) error {
	if p == "" || p == "." {
		return errors.New(errors.ErrCodeBadRecord, "empty path", nil)
	}
	if strings.HasPrefix(p, "/") {
		return errors.New(errors.ErrCodeBadRecord, "absolute path in record", nil).WithPath(p)
	}
	if strings.Contains(p, "\\") {
		return errors.New(errors.ErrCodeBadRecord, "backslash in record path", nil).WithPath(p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return errors.New(errors.ErrCodeBadRecord, "empty path segment", nil).WithPath(p)
		}
		if seg == ".." || seg == "." {
			return errors.New(errors.ErrCodeBadRecord, "relative path segment", nil).WithPath(p)
		}
	}
	return nil
}

// Depth returns the number of path segments, used for shallow-to-deep
// and deep-to-shallow operation ordering.
func Depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// IsUnder reports whether p equals prefix or lies beneath it.
func IsUnder(p, prefix string) bool {
	if prefix == "" || prefix == "." {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
