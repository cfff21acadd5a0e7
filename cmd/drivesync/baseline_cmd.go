package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBaselineCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Inspect or clear the last synced state",
	}

	cmd.AddCommand(
		newBaselineListCmd(c),
		newBaselineResetCmd(c),
	)
	return cmd
}

func newBaselineListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List baseline entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			paths := make([]string, 0, len(entries))
			for p := range entries {
				paths = append(paths, p)
			}
			slices.Sort(paths)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tSIZE\tFINGERPRINT\tSYNCED")
			for _, p := range paths {
				e := entries[p]
				size, fp := humanize.Bytes(uint64(e.Size)), e.Fingerprint
				if e.IsFolder {
					p, size, fp = p+"/", "-", "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p, size, fp, humanize.Time(e.SyncedAt))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", len(entries))
			return nil
		},
	}
}

func newBaselineResetCmd(c *cli) *cobra.Command {
	var noBackup bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the synced state; the next pass runs as a first pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if !noBackup {
				backup, err := store.Backup(cmd.Context())
				if err != nil {
					return fmt.Errorf("backup before reset: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", cyan(backup))
			}

			count, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s baseline entries\n", green(count))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the backup copy of the baseline database")
	return cmd
}
