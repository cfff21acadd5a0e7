package main

import (
	"fmt"

	"github.com/openmined/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd(c *cli) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the current flags and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if utils.FileExists(path) && !force {
				return fmt.Errorf("config %s already exists, use --force to overwrite", path)
			}

			cfg, err := c.config()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := cfg.Save(path); err != nil {
				return err
			}

			remote := cfg.Remote.Dir
			if !cfg.Remote.IsDir() {
				remote = "s3://" + cfg.Remote.Bucket + "/" + cfg.Remote.Prefix
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "drivesync initialized")
			fmt.Fprintf(out, "Config Path: %s\n", green(cfg.Path))
			fmt.Fprintf(out, "Local Dir:   %s\n", cyan(cfg.LocalDir))
			fmt.Fprintf(out, "Remote:      %s\n", cyan(remote))
			fmt.Fprintf(out, "Baseline:    %s\n", cyan(cfg.DBPath))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	return cmd
}
