// Package cmd provides the CLI commands for driftsync.
package cmd

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/pkg/version"
)

var (
	flagRoot    string
	flagDebug   bool
	flagPlain   bool
	flagNoColor bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the driftsync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driftsync",
		Short: "Review-first reconciliation of a local and a remote tree",
		Long: `driftsync compares a local directory with a directory on an SSH host,
shows every difference for review, and applies only the transfers you
confirmed. It never deletes anything on its own.

Typical cycle:

  driftsync scan       compare both trees and record the differences
  driftsync review     browse the differences and pick actions
  driftsync apply      execute the reviewed plan`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("driftsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flagRoot, "root", "C", ".", "Local root directory")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "Force plain text output")
	cmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newSetActionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cleanup, err := logging.SetupDefault(flagDebug)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// localRoot resolves the --root flag to an absolute path.
func localRoot() (string, error) {
	abs, err := filepath.Abs(flagRoot)
	if err != nil {
		return "", fmt.Errorf("cannot resolve root %q: %w", flagRoot, err)
	}
	return abs, nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		printError(cmd, err)
		slog.Error("command_failed", "error", err.Error())
	}
	return err
}

// printError renders structured errors with their path and suggestion.
func printError(cmd *cobra.Command, err error) {
	out := cmd.ErrOrStderr()
	var de *errors.DriftError
	if stderrors.As(err, &de) {
		fmt.Fprintf(out, "Error [%s]: %s\n", de.Code, de.Message)
		if p := errors.GetPath(err); p != "" {
			fmt.Fprintf(out, "  path: %s\n", p)
		}
		if de.Suggestion != "" {
			fmt.Fprintf(out, "  hint: %s\n", de.Suggestion)
		}
		return
	}
	fmt.Fprintf(out, "Error: %v\n", err)
}
