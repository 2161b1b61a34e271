package cmd

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/ignore"
	"github.com/driftsync/driftsync/internal/scanner"
	"github.com/driftsync/driftsync/internal/tree"
)

func newScanCmd() *cobra.Command {
	var root string
	var subtree string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk a tree and stream its records on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd.OutOrStdout(), root, subtree)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Root directory to scan (required)")
	cmd.Flags().StringVar(&subtree, "subtree", "", "Limit the scan to one directory (relative path)")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

// emitter serializes stream writes; records and progress callbacks
// arrive from different goroutines.
type emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (e *emitter) send(ev tree.WireEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
}

func runScan(ctx context.Context, out io.Writer, root, subtree string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	// The helper has no access to the client's config; it applies the
	// built-in exclusions plus any .driftignore files it encounters.
	cfg := config.Default()
	matcher, err := ignore.New(cfg.ExcludedDirs(), cfg.ExcludedFiles(), nil)
	if err != nil {
		return err
	}
	sc, err := scanner.New(abs, matcher)
	if err != nil {
		return err
	}

	em := &emitter{enc: json.NewEncoder(out)}

	var dirs, files, errCount int
	results, err := sc.Scan(ctx, tree.ScanOptions{
		Subtree: subtree,
		Progress: func(relDir string, d, f int) {
			em.send(tree.WireEvent{
				Event:       tree.EventProgress,
				Path:        relDir,
				DirsScanned: d,
				FilesSeen:   f,
			})
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
			errCount++
			em.send(tree.WireEvent{
				Event:   tree.EventError,
				Path:    errors.GetPath(r.Err),
				Message: r.Err.Error(),
			})
			continue
		}
		em.send(tree.RecordEvent(r.Node))
		if r.Node.Kind == tree.KindDir {
			dirs++
		} else {
			files++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	em.send(tree.WireEvent{
		Event:       tree.EventDone,
		DirsScanned: dirs,
		FilesSeen:   files,
		Errors:      errCount,
	})
	return nil
}
