// Package diff defines the shared reconciliation model: per-path diff
// entries with independent content and metadata axes, recommended and
// user-chosen actions, and baseline-derived deletion hints.
package diff

import (
	"fmt"

	"github.com/driftsync/driftsync/internal/tree"
)

// ContentState classifies the content axis of a path pair.
type ContentState string

const (
	ContentIdentical  ContentState = "identical"
	ContentDifferent  ContentState = "different"
	ContentOnlyLocal  ContentState = "only_local"
	ContentOnlyRemote ContentState = "only_remote"
	// ContentUnknown means the cheap signature was inconclusive and the
	// pair is waiting on (or failed) hashing.
	ContentUnknown ContentState = "unknown"
)

// MetadataState classifies the metadata axis (mode + mtime).
type MetadataState string

const (
	MetaIdentical MetadataState = "identical"
	MetaDifferent MetadataState = "different"
	// MetaNotApplicable is used exactly when the path exists on one side
	// only.
	MetaNotApplicable MetadataState = "not_applicable"
)

// Side names one of the two roots.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Action is a per-path reconciliation decision. The zero value means
// no decision.
type Action string

const (
	ActionNone              Action = ""
	ActionSkip              Action = "skip"
	ActionSyncLocalToRemote Action = "sync_local_to_remote"
	ActionSyncRemoteToLocal Action = "sync_remote_to_local"
	ActionMetaLocalToRemote Action = "metadata_local_to_remote"
	ActionMetaRemoteToLocal Action = "metadata_remote_to_local"
	// Manual deletes are only ever executed when chosen by the user;
	// the planner may recommend them but never promotes them on its own.
	ActionManualDeleteLocal  Action = "manual_delete_local"
	ActionManualDeleteRemote Action = "manual_delete_remote"
)

// Valid reports whether a is a known action value (ActionNone excluded).
func (a Action) Valid() bool {
	switch a {
	case ActionSkip, ActionSyncLocalToRemote, ActionSyncRemoteToLocal,
		ActionMetaLocalToRemote, ActionMetaRemoteToLocal,
		ActionManualDeleteLocal, ActionManualDeleteRemote:
		return true
	}
	return false
}

// IsDelete reports whether a removes data from one side.
func (a Action) IsDelete() bool {
	return a == ActionManualDeleteLocal || a == ActionManualDeleteRemote
}

// ParseAction validates a user-supplied action string.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return ActionNone, fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// DeleteHint records which side a baseline-known path disappeared from.
type DeleteHint string

const (
	HintNone            DeleteHint = ""
	HintDeletedOnLocal  DeleteHint = "deleted_on_local"
	HintDeletedOnRemote DeleteHint = "deleted_on_remote"
)

// MetadataDiff field names.
const (
	FieldMode  = "mode"
	FieldMtime = "mtime"
	FieldType  = "type"
)

// Entry is the reconciliation record for one path.
type Entry struct {
	Path string
	Kind tree.Kind

	// Local and Remote are the scanned nodes; nil when the path is
	// absent on that side.
	Local  *tree.Node
	Remote *tree.Node

	ContentState  ContentState
	MetadataState MetadataState
	// MetadataDiff lists the differing metadata fields (mode, mtime,
	// type). Owner/group are informative and never listed here.
	MetadataDiff []string
	// MetaSource is the side whose metadata the policy prefers when the
	// metadata axis differs.
	MetaSource Side

	DeleteHint DeleteHint
	Conflict   bool

	RecommendedAction Action
	// UserAction overrides RecommendedAction when set; it persists
	// across runs while the diff remains applicable.
	UserAction Action

	// LastError is the most recent compare/apply failure attributed to
	// this path, empty when none.
	LastError string
}

// EffectiveAction returns the action the apply engine executes:
// the user's choice when present, the recommendation otherwise.
func (e *Entry) EffectiveAction() Action {
	if e.UserAction != ActionNone {
		return e.UserAction
	}
	return e.RecommendedAction
}

// Resolved reports whether the entry needs no further attention.
func (e *Entry) Resolved() bool {
	return e.ContentState == ContentIdentical && e.MetadataState == MetaIdentical
}

// HasMetaField reports whether the named field differs.
func (e *Entry) HasMetaField(name string) bool {
	for _, f := range e.MetadataDiff {
		if f == name {
			return true
		}
	}
	return false
}

// Summary aggregates entry counts for status output and the review UI.
type Summary struct {
	Total      int
	Identical  int
	Different  int
	OnlyLocal  int
	OnlyRemote int
	Unknown    int
	MetaOnly   int
	Conflicts  int
	Errors     int
}

// Summarize counts entries by state.
func Summarize(entries []*Entry) Summary {
	var s Summary
	for _, e := range entries {
		s.Total++
		switch e.ContentState {
		case ContentIdentical:
			if e.MetadataState == MetaDifferent {
				s.MetaOnly++
			} else {
				s.Identical++
			}
		case ContentDifferent:
			s.Different++
		case ContentOnlyLocal:
			s.OnlyLocal++
		case ContentOnlyRemote:
			s.OnlyRemote++
		case ContentUnknown:
			s.Unknown++
		}
		if e.Conflict {
			s.Conflicts++
		}
		if e.LastError != "" {
			s.Errors++
		}
	}
	return s
}
