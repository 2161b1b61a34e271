// Package engine orchestrates a reconciliation cycle: both scans in
// parallel, compare with lazy hashing, recommendation against the
// previous run's baseline, persistence with user-action carry-forward,
// and plan application with incremental store updates.
package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/apply"
	"github.com/driftsync/driftsync/internal/compare"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/plan"
	"github.com/driftsync/driftsync/internal/state"
	"github.com/driftsync/driftsync/internal/tree"
)

// EventType labels engine progress events.
type EventType string

const (
	EventScanProgress EventType = "scan_progress"
	EventHashProgress EventType = "hash_progress"
	EventPathError    EventType = "path_error"
	EventApplyResult  EventType = "apply_result"
	EventRunComplete  EventType = "run_complete"
)

// Event is one progress notification for the renderer or TUI.
type Event struct {
	Type EventType
	Side diff.Side
	Path string
	// scan counters
	Dirs, Files int
	// hash / apply progress
	Done, Total int
	Err         error
}

// Engine wires the components for one local/remote root pair.
type Engine struct {
	Cfg      *config.Config
	Store    *state.Store
	LocalSc  tree.Scanner
	RemoteSc tree.Scanner
	LocalEP  fsops.Endpoint
	RemoteEP fsops.Endpoint

	// OnEvent, when set, receives progress events. It may be called
	// from multiple goroutines.
	OnEvent func(Event)
}

// New assembles an engine from already-constructed parts.
func New(cfg *config.Config, store *state.Store, localSc, remoteSc tree.Scanner, localEP, remoteEP fsops.Endpoint) *Engine {
	return &Engine{
		Cfg:      cfg,
		Store:    store,
		LocalSc:  localSc,
		RemoteSc: remoteSc,
		LocalEP:  localEP,
		RemoteEP: remoteEP,
	}
}

func (e *Engine) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}

// snapshot is one side's scan output.
type snapshot struct {
	nodes map[string]*tree.Node
	dirs  int
	files int
	errs  []error
}

// Scan runs a full cycle and returns the new run's id and its entries
// (with carried-forward user actions already applied).
func (e *Engine) Scan(ctx context.Context) (string, []*diff.Entry, error) {
	runID, err := e.Store.BeginRun(e.LocalEP.Root(), e.RemoteEP.Root())
	if err != nil {
		return "", nil, err
	}

	entries, stats, err := e.scanAndCompare(ctx, "")
	if err != nil {
		_ = e.Store.FinishRun(runID, state.RunStats{}, state.StatusFailed)
		return "", nil, err
	}

	baseline, prevRunID, err := e.baseline(runID)
	if err != nil {
		_ = e.Store.FinishRun(runID, state.RunStats{}, state.StatusFailed)
		return "", nil, err
	}
	plan.RecommendAll(entries, baseline)

	if err := e.Store.SaveEntries(runID, entries); err != nil {
		_ = e.Store.FinishRun(runID, state.RunStats{}, state.StatusFailed)
		return "", nil, err
	}
	if prevRunID != "" {
		if err := e.Store.CarryForwardUserActions(prevRunID, runID); err != nil {
			_ = e.Store.FinishRun(runID, state.RunStats{}, state.StatusFailed)
			return "", nil, err
		}
		// Reload so returned entries include the carried actions.
		entries, err = e.Store.LoadEntries(runID)
		if err != nil {
			_ = e.Store.FinishRun(runID, state.RunStats{}, state.StatusFailed)
			return "", nil, err
		}
	}

	if err := e.Store.FinishRun(runID, stats, state.StatusDone); err != nil {
		return "", nil, err
	}
	e.emit(Event{Type: EventRunComplete})
	slog.Info("run_complete", "run_id", runID, "entries", len(entries))
	return runID, entries, nil
}

// RescanSubtree re-scans one directory on both sides and swaps the
// affected entries in the latest finished run, preserving user actions
// for diffs that did not change.
func (e *Engine) RescanSubtree(ctx context.Context, subtree string) ([]*diff.Entry, error) {
	latest, err := e.Store.LatestRun()
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Status != state.StatusDone {
		return nil, errors.New(errors.ErrCodeStateIO,
			"no finished run to rescan into; run a full scan first", nil)
	}

	entries, _, err := e.scanAndCompare(ctx, subtree)
	if err != nil {
		return nil, err
	}

	baseline, _, err := e.baseline(latest.ID)
	if err != nil {
		return nil, err
	}
	plan.RecommendAll(entries, baseline)

	// Keep the user's choices where the diff stayed the same.
	old, err := e.Store.LoadEntries(latest.ID)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]*diff.Entry)
	for _, o := range old {
		if tree.IsUnder(o.Path, subtree) && o.UserAction != diff.ActionNone {
			prior[o.Path] = o
		}
	}
	for _, n := range entries {
		if o, ok := prior[n.Path]; ok && o.ContentState == n.ContentState && !n.Resolved() {
			n.UserAction = o.UserAction
		}
	}

	if err := e.Store.ReplaceSubtree(latest.ID, subtree, entries); err != nil {
		return nil, err
	}
	return e.Store.LoadEntries(latest.ID)
}

// scanAndCompare runs both scans concurrently and compares the
// snapshots. A fatal scan error aborts; path-scoped errors are emitted
// and recorded on the matching entries.
func (e *Engine) scanAndCompare(ctx context.Context, subtree string) ([]*diff.Entry, state.RunStats, error) {
	var local, remote snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanSide(gctx, diff.SideLocal, e.LocalSc, subtree, &local) })
	g.Go(func() error { return e.scanSide(gctx, diff.SideRemote, e.RemoteSc, subtree, &remote) })
	if err := g.Wait(); err != nil {
		return nil, state.RunStats{}, err
	}

	cmp, err := compare.New(e.LocalEP, e.RemoteEP, compare.Options{
		MtimeTolerance: e.Cfg.MtimeTolerance(),
		HashWorkers:    e.Cfg.Compare.HashWorkers,
		MetadataPolicy: e.Cfg.Compare.MetadataPolicy,
	})
	if err != nil {
		return nil, state.RunStats{}, err
	}
	cmp.Progress = func(done, total int) {
		e.emit(Event{Type: EventHashProgress, Done: done, Total: total})
	}

	entries, err := cmp.Compare(ctx, local.nodes, remote.nodes)
	if err != nil {
		return nil, state.RunStats{}, err
	}

	attachScanErrors(entries, local.errs)
	attachScanErrors(entries, remote.errs)

	stats := state.RunStats{
		DirsScannedLocal:  local.dirs,
		FilesSeenLocal:    local.files,
		DirsScannedRemote: remote.dirs,
		FilesSeenRemote:   remote.files,
	}
	return entries, stats, nil
}

func (e *Engine) scanSide(ctx context.Context, side diff.Side, sc tree.Scanner, subtree string, snap *snapshot) error {
	snap.nodes = make(map[string]*tree.Node)

	results, err := sc.Scan(ctx, tree.ScanOptions{
		Subtree: subtree,
		Progress: func(relDir string, dirs, files int) {
			e.emit(Event{Type: EventScanProgress, Side: side, Path: relDir, Dirs: dirs, Files: files})
		},
	})
	if err != nil {
		return err
	}

	for r := range results {
		if r.Err != nil {
			if errors.IsFatal(r.Err) {
				return r.Err
			}
			snap.errs = append(snap.errs, r.Err)
			e.emit(Event{Type: EventPathError, Side: side, Path: errors.GetPath(r.Err), Err: r.Err})
			continue
		}
		if _, dup := snap.nodes[r.Node.Path]; dup {
			// Scanners emit each path at most once; a duplicate means
			// a broken stream.
			snap.errs = append(snap.errs,
				errors.New(errors.ErrCodeBadRecord, "duplicate path in scan stream", nil).
					WithPath(r.Node.Path))
			continue
		}
		snap.nodes[r.Node.Path] = r.Node
		if r.Node.Kind == tree.KindDir {
			snap.dirs++
		} else {
			snap.files++
		}
	}
	return ctx.Err()
}

func attachScanErrors(entries []*diff.Entry, errs []error) {
	if len(errs) == 0 {
		return
	}
	byPath := make(map[string]*diff.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}
	for _, err := range errs {
		p := errors.GetPath(err)
		if e, ok := byPath[p]; ok && e.LastError == "" {
			e.LastError = err.Error()
		}
	}
}

func (e *Engine) baseline(excludeRunID string) (plan.Baseline, string, error) {
	prev, err := e.Store.BaselineRun(excludeRunID)
	if err != nil {
		return nil, "", err
	}
	if prev == nil {
		return nil, "", nil
	}
	states, err := e.Store.BaselineStates(prev.ID)
	if err != nil {
		return nil, "", err
	}
	return plan.Baseline(states), prev.ID, nil
}

// SetUserAction records a user choice for a path or subtree on a run.
func (e *Engine) SetUserAction(runID, pathOrSubtree string, action diff.Action) (int, error) {
	return e.Store.SetUserAction(runID, pathOrSubtree, action)
}

// Apply materializes and executes the plan for the given entries,
// updating the store per finished operation.
func (e *Engine) Apply(ctx context.Context, runID string, entries []*diff.Entry) (apply.Stats, error) {
	p := plan.Build(entries)
	slog.Info("apply_start", "run_id", runID,
		"mkdirs", len(p.Mkdirs), "transfers", len(p.Transfers), "deletes", len(p.Deletes))

	eng := apply.New(e.LocalEP, e.RemoteEP, e.Cfg.Apply.Workers)
	total := p.Total()
	done := 0
	eng.OnResult = func(r apply.Result) {
		done++
		e.emit(Event{Type: EventApplyResult, Path: r.Op.Path, Done: done, Total: total, Err: r.Err})
		e.recordResult(runID, r)
	}

	stats := eng.Run(ctx, p)
	e.emit(Event{Type: EventRunComplete})
	return stats, nil
}

// recordResult writes one operation outcome to the store. Updates are
// idempotent per path, so a crash mid-apply loses nothing.
func (e *Engine) recordResult(runID string, r apply.Result) {
	var err error
	switch {
	case r.Err != nil:
		err = e.Store.RecordApplyFailure(runID, r.Op.Path, r.Err.Error())
	case r.Op.Kind == plan.OpDelete:
		err = e.Store.RemoveEntry(runID, r.Op.Path)
	default:
		err = e.Store.MarkResolved(runID, r.Op.Path)
	}
	if err != nil {
		slog.Error("state_update_failed", "path", r.Op.Path, "error", err.Error())
	}
}
