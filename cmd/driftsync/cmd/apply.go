package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/ui"
)

func newApplyCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute the reviewed plan from the latest scan",
		Long: `Apply executes the plan materialized from the latest run: confirmed
copies, metadata fixes, and explicitly chosen deletes. Paths without a
recommendation or choice are left alone. Every copy re-checks that its
target still looks like it did at scan time and refuses to overwrite
anything that changed in between.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runApply(cmd *cobra.Command, yes bool) error {
	s, err := openEngine()
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

	pending, deletes := countActionable(entries)
	if pending == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to apply.")
		return nil
	}
	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "About to apply %d operations", pending)
		if deletes > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " (%d deletes)", deletes)
		}
		fmt.Fprint(cmd.OutOrStdout(), ". Continue? [y/N] ")
		var answer string
		_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	return applyEntries(cmd, s, run.ID, entries)
}

// applyEntries runs the apply engine with plain progress output.
func applyEntries(cmd *cobra.Command, s *session, runID string, entries []*diff.Entry) error {
	renderer := ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout()))
	s.eng.OnEvent = renderer.Handle

	stats, err := s.eng.Apply(cmd.Context(), runID, entries)
	if err != nil {
		return err
	}
	renderer.ApplySummary(stats)
	if stats.Failed > 0 {
		return fmt.Errorf("%d operations failed; see 'driftsync status --list'", stats.Failed)
	}
	return nil
}

// countActionable counts entries the plan will touch and how many of
// those are deletes.
func countActionable(entries []*diff.Entry) (total, deletes int) {
	for _, e := range entries {
		a := e.EffectiveAction()
		switch {
		case a.IsDelete():
			// Deletes only run when the user chose them directly.
			if e.UserAction.IsDelete() {
				total++
				deletes++
			}
		case a != diff.ActionNone && a != diff.ActionSkip:
			total++
		}
	}
	return total, deletes
}
