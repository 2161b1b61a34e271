package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/driftsync/driftsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage driftsync configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, user)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false,
		"Write ~/.config/driftsync/config.yaml instead of <root>/.driftsync/config.yaml")

	return cmd
}

func runConfigInit(cmd *cobra.Command, user bool) error {
	root, err := localRoot()
	if err != nil {
		return err
	}

	path := config.RootConfigPath(root)
	if user {
		path = config.UserConfigPath()
		if path == "" {
			return fmt.Errorf("cannot determine home directory")
		}
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := config.Default().WriteYAML(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Fill in the remote section (host, user, root) before scanning.")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after all layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	return cmd
}

func runConfigShow(cmd *cobra.Command) error {
	root, err := localRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
