// Package cmd provides the CLI commands for driftsync-helper.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/pkg/version"
)

// NewRootCmd creates the root command for the helper.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driftsync-helper",
		Short: "Remote-side scan helper for driftsync",
		Long: `driftsync-helper is installed on the remote host and invoked over SSH
by driftsync. It is not meant to be run by hand: its stdout is a
line-oriented JSON record stream consumed by the client.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("driftsync-helper version {{.Version}}\n")

	cmd.AddCommand(newScanCmd())

	return cmd
}

// Execute runs the root command. Errors go to stderr so they never
// corrupt the stdout protocol.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "driftsync-helper: %v\n", err)
	}
	return err
}
