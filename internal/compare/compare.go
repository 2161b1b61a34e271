// Package compare builds diff entries from two node snapshots. The
// cheap phase classifies every path from size and mtime alone; the
// expensive phase hashes only the pairs the cheap phase left unknown,
// with a bounded worker pool and per-run memoization.
package compare

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/tree"
)

// hashMemoSize bounds the per-run hash cache. A subtree rescan re-hashes
// paths the full run already resolved; the cache makes that free.
const hashMemoSize = 65536

// Hasher computes the hex SHA-256 of one root-relative path.
type Hasher interface {
	Hash(ctx context.Context, path string) (string, error)
}

// Options tunes the comparator.
type Options struct {
	// MtimeTolerance is the window within which mtimes count as equal,
	// on both the content and metadata axes.
	MtimeTolerance time.Duration
	// HashWorkers bounds parallel hashing in the expensive phase.
	HashWorkers int
	// MetadataPolicy selects the side whose metadata wins when the
	// metadata axis differs.
	MetadataPolicy config.MetadataPolicy
}

// Comparator compares two snapshots of the same logical tree.
type Comparator struct {
	local   Hasher
	remote  Hasher
	opts    Options
	memo    *lru.Cache[string, string]
	// Progress, when set, is called after each hashed pair.
	Progress func(done, total int)
}

// New creates a comparator. Zero option fields get defaults.
func New(local, remote Hasher, opts Options) (*Comparator, error) {
	if opts.MtimeTolerance <= 0 {
		opts.MtimeTolerance = 2 * time.Second
	}
	if opts.HashWorkers <= 0 {
		opts.HashWorkers = 4
	}
	if opts.MetadataPolicy == "" {
		opts.MetadataPolicy = config.PolicyNewerMtime
	}
	memo, err := lru.New[string, string](hashMemoSize)
	if err != nil {
		return nil, err
	}
	return &Comparator{local: local, remote: remote, opts: opts, memo: memo}, nil
}

// Compare runs both phases and returns entries sorted by path. Hash
// failures leave the affected entry unknown with the error attributed
// to its path; only cancellation terminates early.
func (c *Comparator) Compare(ctx context.Context, localNodes, remoteNodes map[string]*tree.Node) ([]*diff.Entry, error) {
	entries := c.CheapPhase(localNodes, remoteNodes)
	if err := c.ResolveUnknown(ctx, entries); err != nil {
		return entries, err
	}
	return entries, nil
}

// CheapPhase classifies the union of both snapshots without touching
// file content.
func (c *Comparator) CheapPhase(localNodes, remoteNodes map[string]*tree.Node) []*diff.Entry {
	paths := make([]string, 0, len(localNodes)+len(remoteNodes))
	seen := make(map[string]struct{}, len(localNodes))
	for p := range localNodes {
		paths = append(paths, p)
		seen[p] = struct{}{}
	}
	for p := range remoteNodes {
		if _, ok := seen[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	entries := make([]*diff.Entry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, c.compareOne(p, localNodes[p], remoteNodes[p]))
	}
	return entries
}

func (c *Comparator) compareOne(path string, local, remote *tree.Node) *diff.Entry {
	e := &diff.Entry{Path: path, Local: local, Remote: remote}

	switch {
	case local != nil && remote == nil:
		e.Kind = local.Kind
		e.ContentState = diff.ContentOnlyLocal
		e.MetadataState = diff.MetaNotApplicable
		return e
	case remote != nil && local == nil:
		e.Kind = remote.Kind
		e.ContentState = diff.ContentOnlyRemote
		e.MetadataState = diff.MetaNotApplicable
		return e
	}

	e.Kind = local.Kind

	if local.Kind != remote.Kind {
		e.ContentState = diff.ContentDifferent
		e.MetadataState = diff.MetaDifferent
		e.MetadataDiff = []string{diff.FieldType}
		return e
	}

	if local.Kind == tree.KindSymlink {
		// Link permissions are not meaningful, so a symlink pair's
		// metadata axis is always identical.
		e.MetadataState = diff.MetaIdentical
		if linkKey(local) == linkKey(remote) {
			e.ContentState = diff.ContentIdentical
		} else {
			e.ContentState = diff.ContentDifferent
		}
		return e
	}

	e.MetadataState, e.MetadataDiff = c.compareMetadata(local, remote)
	if e.MetadataState == diff.MetaDifferent {
		e.MetaSource = c.preferredSide(local, remote)
	}

	if local.Kind == tree.KindDir {
		e.ContentState = diff.ContentIdentical
		return e
	}

	switch {
	case local.Size == remote.Size && c.withinTolerance(local.MtimeNS, remote.MtimeNS):
		e.ContentState = diff.ContentIdentical
	case local.Size == remote.Size:
		e.ContentState = diff.ContentUnknown
	default:
		e.ContentState = diff.ContentDifferent
	}
	return e
}

func (c *Comparator) compareMetadata(local, remote *tree.Node) (diff.MetadataState, []string) {
	var fields []string
	if local.Mode != remote.Mode {
		fields = append(fields, diff.FieldMode)
	}
	if !c.withinTolerance(local.MtimeNS, remote.MtimeNS) {
		fields = append(fields, diff.FieldMtime)
	}
	if len(fields) == 0 {
		return diff.MetaIdentical, nil
	}
	return diff.MetaDifferent, fields
}

// preferredSide applies the metadata policy to pick the side whose
// mode/mtime should win. Ties go to local.
func (c *Comparator) preferredSide(local, remote *tree.Node) diff.Side {
	switch c.opts.MetadataPolicy {
	case config.PolicyLocal:
		return diff.SideLocal
	case config.PolicyRemote:
		return diff.SideRemote
	case config.PolicyOlderMtime:
		if remote.MtimeNS < local.MtimeNS {
			return diff.SideRemote
		}
		return diff.SideLocal
	default: // newer_mtime
		if remote.MtimeNS > local.MtimeNS {
			return diff.SideRemote
		}
		return diff.SideLocal
	}
}

func (c *Comparator) withinTolerance(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= c.opts.MtimeTolerance.Nanoseconds()
}

func linkKey(n *tree.Node) string {
	if n.LinkTargetKey != "" {
		return n.LinkTargetKey
	}
	return n.LinkTarget
}

// ResolveUnknown hashes both sides of every unknown file pair with a
// bounded pool. Equal hashes resolve to identical, unequal to
// different; a failed hash leaves the pair unknown and records the
// error on the entry.
func (c *Comparator) ResolveUnknown(ctx context.Context, entries []*diff.Entry) error {
	var pending []*diff.Entry
	for _, e := range entries {
		if e.ContentState == diff.ContentUnknown && e.Kind == tree.KindFile {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.HashWorkers)

	done := make(chan struct{}, len(pending))
	if c.Progress != nil {
		go func() {
			n := 0
			for range done {
				n++
				c.Progress(n, len(pending))
			}
		}()
	}

	for _, e := range pending {
		g.Go(func() error {
			defer func() {
				if c.Progress != nil {
					done <- struct{}{}
				}
			}()

			localHash, lerr := c.hashSide(gctx, diff.SideLocal, e.Local)
			remoteHash, rerr := c.hashSide(gctx, diff.SideRemote, e.Remote)
			if lerr != nil || rerr != nil {
				err := lerr
				if err == nil {
					err = rerr
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.LastError = errors.CompareError(e.Path, err).Error()
				return nil
			}
			if localHash == remoteHash {
				e.ContentState = diff.ContentIdentical
			} else {
				e.ContentState = diff.ContentDifferent
			}
			return nil
		})
	}
	err := g.Wait()
	close(done)
	return err
}

func (c *Comparator) hashSide(ctx context.Context, side diff.Side, n *tree.Node) (string, error) {
	key := fmt.Sprintf("%s:%s:%d:%d", side, n.Path, n.Size, n.MtimeNS)
	if h, ok := c.memo.Get(key); ok {
		return h, nil
	}
	hasher := c.local
	if side == diff.SideRemote {
		hasher = c.remote
	}
	h, err := hasher.Hash(ctx, n.Path)
	if err != nil {
		return "", err
	}
	c.memo.Add(key, h)
	return h, nil
}
