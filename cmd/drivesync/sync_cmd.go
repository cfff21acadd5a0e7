package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	syncer "github.com/openmined/drivesync/internal/sync"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, runErr := a.engine.RunOnce(cmd.Context())
			if report != nil {
				if asJSON {
					if err := printReportJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
			}
			if runErr != nil {
				return runErr
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("%d path(s) failed", len(report.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pass report as JSON")
	return cmd
}

func printReportJSON(w io.Writer, report *syncer.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printReport(w io.Writer, r *syncer.Report) {
	fmt.Fprintf(w, "Pass %s finished in %s\n", cyan(r.ID[:8]), r.Duration.Round(1e6))
	fmt.Fprintf(w, "  Uploaded:       %s\n", green(r.Uploads))
	fmt.Fprintf(w, "  Downloaded:     %s\n", green(r.Downloads))
	fmt.Fprintf(w, "  Deleted remote: %d\n", r.RemoteDeletes)
	fmt.Fprintf(w, "  Deleted local:  %d\n", r.LocalDeletes)
	fmt.Fprintf(w, "  Unchanged:      %d\n", r.Unchanged)
	if r.Ignored > 0 {
		fmt.Fprintf(w, "  Ignored:        %d\n", r.Ignored)
	}
	if r.Conflicts > 0 {
		fmt.Fprintf(w, "  Conflicts:      %s\n", yellow(r.Conflicts))
		for _, cc := range r.ConflictCopies {
			fmt.Fprintf(w, "    %s kept as %s (%s won)\n", cc.Path, yellow(cc.CopyPath), cc.Winner)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "  Errors:         %s\n", red(len(r.Errors)))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
}
