// Package scanner implements the local tree scanner. It walks one
// filesystem root depth-first, prunes excluded directories before
// descending, and streams normalized node records with a directory's
// record preceding its children's.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/ignore"
	"github.com/driftsync/driftsync/internal/tree"
)

// progressInterval throttles progress callbacks on large trees.
const progressInterval = 200 * time.Millisecond

// Local scans a local filesystem root.
type Local struct {
	root    string
	home    string
	matcher *ignore.Matcher
}

// New creates a scanner for the given root directory.
func New(root string, matcher *ignore.Matcher) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRootNotFound,
			fmt.Sprintf("local root not found: %s", abs), err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeRootNotFound,
			fmt.Sprintf("local root is not a directory: %s", abs), nil)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return &Local{root: abs, home: home, matcher: matcher}, nil
}

// Root returns the absolute root path.
func (s *Local) Root() string { return s.root }

// Scan implements tree.Scanner. The returned channel is closed when the
// walk finishes or the context is cancelled; path-scoped errors are
// emitted inline and never terminate the stream.
func (s *Local) Scan(ctx context.Context, opts tree.ScanOptions) (<-chan tree.ScanResult, error) {
	start := s.root
	subtree := strings.Trim(opts.Subtree, "/")
	if subtree != "" && subtree != "." {
		start = filepath.Join(s.root, filepath.FromSlash(subtree))
		info, err := os.Stat(start)
		if err != nil || !info.IsDir() {
			// A vanished subtree yields an empty stream, matching the
			// remote helper's behavior.
			results := make(chan tree.ScanResult)
			close(results)
			return results, nil
		}
		s.matcher.PrimeSubtree(s.root, subtree)
	} else {
		s.matcher.LoadDir(s.root, ".")
	}

	results := make(chan tree.ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, start, opts, results)
	}()
	return results, nil
}

func (s *Local) walk(ctx context.Context, start string, opts tree.ScanOptions, results chan<- tree.ScanResult) {
	dirsScanned := 0
	filesSeen := 0
	lastProgress := time.Time{}

	_ = filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			s.emit(ctx, results, tree.ScanResult{Err: errors.ScanError(rel, walkErr)})
			return nil
		}

		if d.IsDir() {
			dirsScanned++
			if opts.Progress != nil && time.Since(lastProgress) >= progressInterval {
				opts.Progress(rel, dirsScanned, filesSeen)
				lastProgress = time.Now()
			}

			if rel == "." {
				return nil
			}
			if s.matcher.IsExcludedDirName(d.Name()) {
				return filepath.SkipDir
			}
			if excluded, _ := s.matcher.Match(rel, true); excluded {
				return filepath.SkipDir
			}
			// Rules in this directory apply to its descendants only, so
			// load them after the directory itself passed the check.
			s.matcher.LoadDir(s.root, rel)

			node, err := s.statNode(rel, p, tree.KindDir)
			if err != nil {
				s.emit(ctx, results, tree.ScanResult{Err: errors.ScanError(rel, err)})
				return nil
			}
			s.emit(ctx, results, tree.ScanResult{Node: node})
			return nil
		}

		if s.matcher.IsExcludedFileName(d.Name()) {
			return nil
		}
		kind := tree.KindFile
		if d.Type()&fs.ModeSymlink != 0 {
			kind = tree.KindSymlink
		}
		if excluded, _ := s.matcher.Match(rel, false); excluded {
			return nil
		}

		node, err := s.statNode(rel, p, kind)
		if err != nil {
			s.emit(ctx, results, tree.ScanResult{Err: errors.ScanError(rel, err)})
			return nil
		}
		filesSeen++
		s.emit(ctx, results, tree.ScanResult{Node: node})
		return nil
	})

	if opts.Progress != nil {
		opts.Progress(".", dirsScanned, filesSeen)
	}
}

// statNode builds the node record for one path via lstat; symlinks are
// recorded, never followed.
func (s *Local) statNode(rel, abs string, kind tree.Kind) (*tree.Node, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}

	node := &tree.Node{
		Path:    rel,
		Kind:    kind,
		MtimeNS: info.ModTime().UnixNano(),
		Mode:    uint32(info.Mode().Perm()),
	}
	if kind == tree.KindFile {
		node.Size = info.Size()
	}
	if kind == tree.KindSymlink {
		target, err := os.Readlink(abs)
		if err != nil {
			return nil, err
		}
		node.LinkTarget = filepath.ToSlash(target)
		node.LinkTargetKey = tree.TargetCompareKey(rel, node.LinkTarget,
			filepath.ToSlash(s.root), filepath.ToSlash(s.home))
	}
	node.Owner, node.Group = ownership(info)
	return node, nil
}

func (s *Local) emit(ctx context.Context, results chan<- tree.ScanResult, r tree.ScanResult) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}
