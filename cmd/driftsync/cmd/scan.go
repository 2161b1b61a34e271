package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/ui"
)

func newScanCmd() *cobra.Command {
	var subtree string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Compare the local and remote trees and record the differences",
		Long: `Scan walks both trees in parallel, compares every path, and records
the result as a new run. Unresolved pairs (same size, different mtime)
are settled by content hashing. User choices from the previous run are
carried forward for unchanged differences.

With --subtree only that directory is re-scanned and the latest run is
patched in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd, subtree)
		},
	}

	cmd.Flags().StringVar(&subtree, "subtree", "", "Limit the scan to one directory (relative path)")

	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, subtree string) error {
	s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	uiCfg := ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: flagPlain,
		NoColor:    flagNoColor,
	}
	renderer, finish := newProgressRenderer(uiCfg)
	s.eng.OnEvent = renderer.Handle

	var entries []*diff.Entry
	if subtree != "" {
		entries, err = s.eng.RescanSubtree(ctx, subtree)
	} else {
		_, entries, err = s.eng.Scan(ctx)
	}
	finish()
	if err != nil {
		return err
	}

	ui.NewPlainRenderer(uiCfg).ScanSummary(entries)
	return nil
}

// newProgressRenderer picks the live TUI on interactive terminals and
// plain line output everywhere else. finish tears the TUI down before
// the summary is printed.
func newProgressRenderer(cfg ui.Config) (ui.Renderer, func()) {
	if ui.CanReview(cfg) {
		if tui, err := ui.NewTUIRenderer(cfg); err == nil {
			tui.Start(cfg)
			return tui, tui.Stop
		}
	}
	return ui.NewPlainRenderer(cfg), func() {}
}
