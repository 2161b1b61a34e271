// Package apply executes a materialized plan against two endpoints.
// Phases run in order (mkdirs shallow to deep, transfers, deletes deep
// to shallow); failures are recorded per operation and never stop the
// run, and every copy re-validates its destination against the
// signature captured at plan time before overwriting anything.
package apply

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/plan"
	"github.com/driftsync/driftsync/internal/tree"
)

// Result is the outcome of one operation.
type Result struct {
	Op  plan.Op
	Err error
}

// Stats aggregates a run's per-kind counts and durations.
type Stats struct {
	Succeeded int
	Failed    int
	Skipped   int
	Counts    map[plan.OpKind]int
	Seconds   map[plan.OpKind]float64
}

// Engine applies plans between a local and a remote endpoint.
type Engine struct {
	local   fsops.Endpoint
	remote  fsops.Endpoint
	workers int

	// OnResult, when set, is called once per finished operation, in
	// completion order. Callbacks from the transfer phase may arrive
	// from multiple goroutines but never concurrently.
	OnResult func(Result)

	mu    sync.Mutex
	stats Stats
}

// New creates an apply engine. workers bounds parallel transfers.
func New(local, remote fsops.Endpoint, workers int) *Engine {
	if workers < 1 {
		workers = 4
	}
	return &Engine{
		local:   local,
		remote:  remote,
		workers: workers,
	}
}

// Run executes the plan's phases. Cancellation stops scheduling between
// operations; the unexecuted remainder is counted as skipped.
func (e *Engine) Run(ctx context.Context, p *plan.Plan) Stats {
	e.stats = Stats{
		Counts:  make(map[plan.OpKind]int),
		Seconds: make(map[plan.OpKind]float64),
	}

	// Mkdirs are ordered shallow to deep and stay sequential so parents
	// always exist before children.
	for _, op := range p.Mkdirs {
		if ctx.Err() != nil {
			e.skip(1)
			continue
		}
		e.finish(op, e.runOp(ctx, op))
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, op := range p.Transfers {
		if ctx.Err() != nil {
			e.skip(1)
			continue
		}
		g.Go(func() error {
			e.finish(op, e.runOp(ctx, op))
			return nil
		})
	}
	_ = g.Wait()

	// Deletes are ordered deep to shallow so directories empty out
	// before their own removal.
	for _, op := range p.Deletes {
		if ctx.Err() != nil {
			e.skip(1)
			continue
		}
		e.finish(op, e.runOp(ctx, op))
	}

	return e.stats
}

func (e *Engine) skip(n int) {
	e.mu.Lock()
	e.stats.Skipped += n
	e.mu.Unlock()
}

func (e *Engine) finish(op plan.Op, res result) {
	e.mu.Lock()
	e.stats.Counts[op.Kind]++
	e.stats.Seconds[op.Kind] += res.elapsed.Seconds()
	if res.err == nil {
		e.stats.Succeeded++
	} else {
		e.stats.Failed++
		slog.Warn("apply_op_failed", "kind", string(op.Kind),
			"path", op.Path, "target", string(op.Target), "error", res.err.Error())
	}
	cb := e.OnResult
	if cb != nil {
		cb(Result{Op: op, Err: res.err})
	}
	e.mu.Unlock()
}

type result struct {
	err     error
	elapsed time.Duration
}

func (e *Engine) runOp(ctx context.Context, op plan.Op) result {
	started := time.Now()
	var err error
	switch op.Kind {
	case plan.OpMkdir:
		err = e.mkdir(op)
	case plan.OpCopy:
		err = e.copy(ctx, op)
	case plan.OpChmod:
		err = e.chmod(op)
	case plan.OpDelete:
		err = e.delete(op)
	default:
		err = errors.New(errors.ErrCodeCopyFailed,
			fmt.Sprintf("unsupported operation kind %q", op.Kind), nil).WithPath(op.Path)
	}
	return result{err: err, elapsed: time.Since(started)}
}

// dest returns the endpoint being written, source the other one.
func (e *Engine) dest(op plan.Op) fsops.Endpoint {
	if op.Target == diff.SideRemote {
		return e.remote
	}
	return e.local
}

func (e *Engine) source(op plan.Op) fsops.Endpoint {
	if op.Target == diff.SideRemote {
		return e.local
	}
	return e.remote
}

// sourceNode is the scanned node on the side being copied from.
func sourceNode(op plan.Op) *tree.Node {
	if op.Target == diff.SideRemote {
		return op.Entry.Local
	}
	return op.Entry.Remote
}

func (e *Engine) mkdir(op plan.Op) error {
	node := sourceNode(op)
	mode := fs.FileMode(0o755)
	if node != nil {
		mode = fs.FileMode(node.Mode)
	}
	if err := e.dest(op).Mkdir(op.Path, mode); err != nil {
		return errors.New(errors.ErrCodeMkdirFailed, err.Error(), err).WithPath(op.Path)
	}
	return nil
}

func (e *Engine) copy(ctx context.Context, op plan.Op) error {
	node := sourceNode(op)
	if node == nil {
		return errors.New(errors.ErrCodeCopyFailed, "source vanished from snapshot", nil).WithPath(op.Path)
	}
	dest := e.dest(op)
	src := e.source(op)

	// The destination must still look exactly like it did at plan time;
	// anything else means it changed underneath the review.
	now, err := fsops.SignatureOf(dest, op.Path)
	if err != nil {
		return errors.New(errors.ErrCodeCopyFailed, err.Error(), err).WithPath(op.Path)
	}
	if !op.DestSig.Matches(now) {
		return errors.New(errors.ErrCodeTargetChanged,
			"target changed since plan", nil).WithPath(op.Path).
			WithSuggestion("rescan the path and review again")
	}

	if node.Kind == tree.KindSymlink {
		return e.copySymlink(op, src, dest)
	}

	f, err := src.Open(op.Path)
	if err != nil {
		return errors.New(errors.ErrCodeCopyFailed, err.Error(), err).WithPath(op.Path)
	}
	defer func() { _ = f.Close() }()

	if err := dest.WriteFile(op.Path, &ctxReader{ctx: ctx, r: f}, fs.FileMode(node.Mode)); err != nil {
		return errors.New(errors.ErrCodeCopyFailed, err.Error(), err).WithPath(op.Path)
	}
	if err := dest.Chtimes(op.Path, node.MtimeNS); err != nil {
		return errors.New(errors.ErrCodeChmodFailed, err.Error(), err).WithPath(op.Path)
	}
	return nil
}

// copySymlink reads the live target and maps it into the destination
// root's terms before creating the link.
func (e *Engine) copySymlink(op plan.Op, src, dest fsops.Endpoint) error {
	target, err := src.Readlink(op.Path)
	if err != nil {
		return errors.New(errors.ErrCodeCopyFailed, err.Error(), err).WithPath(op.Path)
	}
	mapped := tree.MapTargetForDestination(
		src.Root(), src.Home(), op.Path, target, dest.Root(), dest.Home())
	if err := dest.Symlink(mapped, op.Path); err != nil {
		return errors.New(errors.ErrCodeCopyFailed, err.Error(), err).WithPath(op.Path)
	}
	return nil
}

func (e *Engine) chmod(op plan.Op) error {
	node := sourceNode(op)
	if node == nil {
		return errors.New(errors.ErrCodeChmodFailed, "source vanished from snapshot", nil).WithPath(op.Path)
	}
	dest := e.dest(op)
	if err := dest.Chmod(op.Path, fs.FileMode(node.Mode)); err != nil {
		return errors.New(errors.ErrCodeChmodFailed, err.Error(), err).WithPath(op.Path)
	}
	if err := dest.Chtimes(op.Path, node.MtimeNS); err != nil {
		return errors.New(errors.ErrCodeChmodFailed, err.Error(), err).WithPath(op.Path)
	}
	return nil
}

func (e *Engine) delete(op plan.Op) error {
	if err := e.dest(op).Remove(op.Path); err != nil {
		return errors.New(errors.ErrCodeDeleteFailed, err.Error(), err).WithPath(op.Path)
	}
	return nil
}

// ctxReader aborts an in-flight copy on cancellation.
type ctxReader struct {
	ctx context.Context
	r   interface{ Read([]byte) (int, error) }
}

func (c *ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
