// Package plan turns diff entries into recommended actions and
// materializes the user-approved subset into an ordered operation list.
// Recommendations are conservative: a delete is only ever recommended
// when the previous run proves the path existed on both sides, and it
// is never executed without an explicit user choice.
package plan

import (
	"sort"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/tree"
)

// Baseline maps path to the previous run's content state. An empty
// baseline (first run) never yields a delete recommendation.
type Baseline map[string]diff.ContentState

// WasOnBothSides reports whether the baseline saw the path on both
// roots.
func (b Baseline) WasOnBothSides(path string) bool {
	switch b[path] {
	case diff.ContentIdentical, diff.ContentDifferent, diff.ContentUnknown:
		return true
	}
	return false
}

// Recommend fills in RecommendedAction, Conflict, and DeleteHint for
// one entry. It is pure apart from recording a contradiction on the
// entry itself.
func Recommend(e *diff.Entry, baseline Baseline) {
	e.Conflict = false
	e.DeleteHint = diff.HintNone

	switch e.ContentState {
	case diff.ContentIdentical:
		if e.MetadataState == diff.MetaDifferent && e.Kind != tree.KindSymlink {
			if e.MetaSource == diff.SideLocal {
				e.RecommendedAction = diff.ActionMetaLocalToRemote
			} else {
				e.RecommendedAction = diff.ActionMetaRemoteToLocal
			}
			return
		}
		e.RecommendedAction = diff.ActionSkip

	case diff.ContentDifferent:
		// Both sides changed relative to each other; never pick a winner.
		e.Conflict = true
		e.RecommendedAction = diff.ActionSkip

	case diff.ContentUnknown:
		e.RecommendedAction = diff.ActionSkip

	case diff.ContentOnlyLocal:
		if baseline[e.Path] == diff.ContentOnlyRemote {
			// The path flipped sides between runs; the baseline cannot
			// be trusted for it.
			e.RecommendedAction = diff.ActionSkip
			e.LastError = errors.New(errors.ErrCodeBadBaseline,
				"path flipped sides since the previous run", nil).
				WithPath(e.Path).Error()
			return
		}
		if baseline.WasOnBothSides(e.Path) {
			e.DeleteHint = diff.HintDeletedOnRemote
			e.RecommendedAction = diff.ActionManualDeleteLocal
			return
		}
		e.RecommendedAction = diff.ActionSyncLocalToRemote

	case diff.ContentOnlyRemote:
		if baseline[e.Path] == diff.ContentOnlyLocal {
			e.RecommendedAction = diff.ActionSkip
			e.LastError = errors.New(errors.ErrCodeBadBaseline,
				"path flipped sides since the previous run", nil).
				WithPath(e.Path).Error()
			return
		}
		if baseline.WasOnBothSides(e.Path) {
			e.DeleteHint = diff.HintDeletedOnLocal
			e.RecommendedAction = diff.ActionManualDeleteRemote
			return
		}
		e.RecommendedAction = diff.ActionSyncRemoteToLocal
	}
}

// RecommendAll applies Recommend to every entry.
func RecommendAll(entries []*diff.Entry, baseline Baseline) {
	for _, e := range entries {
		Recommend(e, baseline)
	}
}

// OpKind is one primitive the apply engine executes.
type OpKind string

const (
	OpMkdir  OpKind = "mkdir"
	OpCopy   OpKind = "copy"
	OpChmod  OpKind = "chmod"
	OpDelete OpKind = "delete"
)

// Op is one planned operation against one side.
type Op struct {
	Kind OpKind
	Path string
	// Target is the side being written or deleted.
	Target diff.Side
	// Entry is the diff entry the op was materialized from.
	Entry *diff.Entry
	// DestSig is the destination's signature at plan time; copies are
	// aborted when the destination no longer matches it.
	DestSig fsops.Signature
}

// Plan is the ordered operation list: mkdirs shallow to deep, then
// transfers, then deletes deep to shallow.
type Plan struct {
	Mkdirs    []Op
	Transfers []Op
	Deletes   []Op
}

// Total returns the number of operations across all phases.
func (p *Plan) Total() int {
	return len(p.Mkdirs) + len(p.Transfers) + len(p.Deletes)
}

// Build materializes operations from effective actions. A recommended
// manual_delete without a matching user choice contributes nothing.
func Build(entries []*diff.Entry) *Plan {
	p := &Plan{}

	for _, e := range entries {
		action := e.EffectiveAction()
		switch action {
		case diff.ActionSyncLocalToRemote:
			p.addSync(e, e.Local, e.Remote, diff.SideRemote)
		case diff.ActionSyncRemoteToLocal:
			p.addSync(e, e.Remote, e.Local, diff.SideLocal)
		case diff.ActionMetaLocalToRemote:
			p.addChmod(e, diff.SideRemote)
		case diff.ActionMetaRemoteToLocal:
			p.addChmod(e, diff.SideLocal)
		case diff.ActionManualDeleteLocal:
			if e.UserAction == diff.ActionManualDeleteLocal {
				p.Deletes = append(p.Deletes, Op{Kind: OpDelete, Path: e.Path, Target: diff.SideLocal, Entry: e})
			}
		case diff.ActionManualDeleteRemote:
			if e.UserAction == diff.ActionManualDeleteRemote {
				p.Deletes = append(p.Deletes, Op{Kind: OpDelete, Path: e.Path, Target: diff.SideRemote, Entry: e})
			}
		}
	}

	sort.SliceStable(p.Mkdirs, func(i, j int) bool {
		return tree.Depth(p.Mkdirs[i].Path) < tree.Depth(p.Mkdirs[j].Path)
	})
	sort.SliceStable(p.Transfers, func(i, j int) bool {
		return p.Transfers[i].Path < p.Transfers[j].Path
	})
	sort.SliceStable(p.Deletes, func(i, j int) bool {
		return tree.Depth(p.Deletes[i].Path) > tree.Depth(p.Deletes[j].Path)
	})
	return p
}

func (p *Plan) addSync(e *diff.Entry, source, dest *tree.Node, target diff.Side) {
	if source == nil {
		return
	}
	if source.Kind == tree.KindDir {
		p.Mkdirs = append(p.Mkdirs, Op{Kind: OpMkdir, Path: e.Path, Target: target, Entry: e})
		return
	}
	p.Transfers = append(p.Transfers, Op{
		Kind:    OpCopy,
		Path:    e.Path,
		Target:  target,
		Entry:   e,
		DestSig: signatureOf(dest),
	})
}

func (p *Plan) addChmod(e *diff.Entry, target diff.Side) {
	if e.Kind == tree.KindSymlink {
		return
	}
	p.Transfers = append(p.Transfers, Op{Kind: OpChmod, Path: e.Path, Target: target, Entry: e})
}

// signatureOf derives the plan-time destination signature from the
// scanned node, nil meaning the destination did not exist.
func signatureOf(n *tree.Node) fsops.Signature {
	if n == nil {
		return fsops.Signature{}
	}
	sig := fsops.Signature{Exists: true, MtimeNS: n.MtimeNS}
	if n.Kind == tree.KindFile {
		sig.Size = n.Size
	}
	return sig
}
