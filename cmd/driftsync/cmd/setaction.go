package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/diff"
)

func newSetActionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-action <path> <action>",
		Short: "Record a sync choice for a path or subtree",
		Long: `Set-action records a choice on the latest run without opening the
review browser, for scripted workflows. A directory path covers every
unresolved entry beneath it.

Actions: skip, sync_local_to_remote, sync_remote_to_local,
metadata_local_to_remote, metadata_remote_to_local,
manual_delete_local, manual_delete_remote, or clear.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetAction(cmd, args[0], args[1])
		},
	}

	return cmd
}

func runSetAction(cmd *cobra.Command, path, actionArg string) error {
	var action diff.Action
	if actionArg != "clear" {
		parsed, err := diff.ParseAction(actionArg)
		if err != nil {
			return err
		}
		action = parsed
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.latestDoneRun()
	if err != nil {
		return err
	}
	n, err := s.store.SetUserAction(run.ID, path, action)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no entries under %q in the latest run", path)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %d entries under %s\n", actionArg, n, path)
	return nil
}
