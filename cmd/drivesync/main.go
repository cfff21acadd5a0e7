package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/openmined/drivesync/internal/config"
	"github.com/openmined/drivesync/internal/logging"
	"github.com/openmined/drivesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	v        *viper.Viper
	logClose io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:     "drivesync",
		Short:   "Two-way sync between a cloud drive and a local folder",
		Version: version.Get().Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadConfig(cmd); err != nil {
				return err
			}
			return c.setupLogging(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logClose != nil {
				return c.logClose.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.StringP("local", "l", "", "local directory to mirror")
	flags.String("remote-dir", "", "sync against a directory instead of a bucket")
	flags.StringP("bucket", "b", "", "remote S3 bucket")
	flags.String("prefix", "", "key prefix inside the bucket")
	flags.String("endpoint", "", "S3 compatible endpoint URL")
	flags.String("db", "", "baseline database path")
	flags.String("log-file", "", "log file path")
	flags.IntP("workers", "w", 0, "concurrent transfers")
	flags.String("policy", "", "conflict winner: remote or newer")
	flags.BoolP("verbose", "v", false, "debug output on the console")

	rootCmd.AddCommand(
		newSyncCmd(c),
		newWatchCmd(c),
		newBaselineCmd(c),
		newInitCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", red("ERROR"), err)
		}
		os.Exit(1)
	}
}

// resolveConfigPath prefers an explicit --config over DRIVESYNC_CONFIG_PATH.
func resolveConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if envPath := os.Getenv(config.EnvPrefix + "_CONFIG_PATH"); envPath != "" && !cmd.Flag("config").Changed {
		path = envPath
	}
	return path
}

func (c *cli) loadConfig(cmd *cobra.Command) error {
	v := c.v

	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	config.SetDefaults(v)

	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"local_dir":       "local",
		"remote.dir":      "remote-dir",
		"remote.bucket":   "bucket",
		"remote.prefix":   "prefix",
		"remote.endpoint": "endpoint",
		"db_path":         "db",
		"log_file":        "log-file",
		"workers":         "workers",
		"conflict_policy": "policy",
	} {
		// only explicitly set flags override file and environment
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *cli) setupLogging(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	// stdout is kept for command output such as --json
	logger, closer, err := logging.Setup(logging.Options{
		Console:      cmd.ErrOrStderr(),
		ConsoleLevel: level,
		File:         c.v.GetString("log_file"),
	})
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	slog.SetDefault(logger)
	c.logClose = closer
	return nil
}

// config decodes and validates the merged configuration.
func (c *cli) config() (*config.Config, error) {
	return config.Load(c.v)
}
