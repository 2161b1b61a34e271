package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/ui"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Browse the recorded differences and pick actions",
		Long: `Review opens an interactive browser over the latest scan: a directory
tree with per-folder difference counts and per-file state badges.
Choices are saved as you make them, so quitting loses nothing. Press
'a' inside the browser to apply the reviewed plan immediately.

On a non-interactive terminal this prints the pending list instead;
use 'driftsync set-action' to choose actions from scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd)
		},
	}

	return cmd
}

func runReview(cmd *cobra.Command) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.latestDoneRun()
	if err != nil {
		return err
	}
	entries, err := s.store.LoadEntries(run.ID)
	if err != nil {
		return err
	}

	uiCfg := ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: flagPlain,
		NoColor:    flagNoColor,
	}
	if !ui.CanReview(uiCfg) {
		renderer := ui.NewPlainRenderer(uiCfg)
		renderer.ScanSummary(entries)
		renderer.ListPending(entries)
		fmt.Fprintln(cmd.OutOrStdout(),
			"non-interactive terminal; use 'driftsync set-action <path> <action>' to choose")
		return nil
	}

	deps := ui.ReviewDeps{
		Entries:   entries,
		Prefs:     s.store,
		LocalRoot: run.LocalRoot,
		Remote:    fmt.Sprintf("%s:%s", s.cfg.Remote.Host, run.RemoteRoot),
		SetAction: func(pathOrSubtree string, action diff.Action) ([]*diff.Entry, error) {
			if _, err := s.store.SetUserAction(run.ID, pathOrSubtree, action); err != nil {
				return nil, err
			}
			return s.store.LoadEntries(run.ID)
		},
	}

	outcome, err := ui.RunReview(uiCfg, deps)
	if err != nil {
		return err
	}
	if outcome != ui.OutcomeApply {
		return nil
	}

	// The user asked to apply from the review screen.
	if err := s.connect(); err != nil {
		return err
	}
	entries, err = s.store.LoadEntries(run.ID)
	if err != nil {
		return err
	}
	return applyEntries(cmd, s, run.ID, entries)
}
