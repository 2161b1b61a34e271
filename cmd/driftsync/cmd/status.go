package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var listAll bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run and what still needs attention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, listAll)
		},
	}

	cmd.Flags().BoolVar(&listAll, "list", false, "List every pending path, not just the summary")

	return cmd
}

func runStatus(cmd *cobra.Command, listAll bool) error {
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

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  local:  %s (%d dirs, %d files)\n",
		run.LocalRoot, run.Stats.DirsScannedLocal, run.Stats.FilesSeenLocal)
	fmt.Fprintf(out, "  remote: %s (%d dirs, %d files)\n",
		run.RemoteRoot, run.Stats.DirsScannedRemote, run.Stats.FilesSeenRemote)

	renderer := ui.NewPlainRenderer(ui.NewConfig(out))
	renderer.ScanSummary(entries)
	if listAll {
		renderer.ListPending(entries)
	}
	return nil
}
