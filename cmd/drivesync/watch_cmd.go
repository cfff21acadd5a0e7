package main

import (
	"log/slog"
	"time"

	syncer "github.com/openmined/drivesync/internal/sync"
	"github.com/spf13/cobra"
)

func newWatchCmd(c *cli) *cobra.Command {
	var interval time.Duration
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously, on an interval and on local changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if cmd.Flag("interval").Changed {
				cfg.Interval = interval
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			manager := syncer.NewManager(a.engine, cfg.Interval).
				OnReport(func(r *syncer.Report, err error) {
					if r.Propagations() > 0 || len(r.Errors) > 0 {
						printReport(cmd.OutOrStdout(), r)
					}
				})

			if !noWatch {
				ignore, err := syncer.LoadIgnoreList(a.local.Fs(), cfg.Ignore, cfg.Include)
				if err != nil {
					return err
				}
				watcher := syncer.NewFileWatcher(a.local.Root())
				// rule changes in the ignore file take effect on restart
				watcher.FilterPaths(func(relPath string) bool {
					return ignore.ShouldIgnore(relPath, false)
				})
				manager.WithWatcher(watcher)
			}

			defer slog.Info("Bye!")
			return manager.Run(cmd.Context())
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", syncer.DefaultInterval, "time between passes")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the local folder, rely on the interval only")
	return cmd
}
