package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/drivesync/internal/drive"
	syncer "github.com/openmined/drivesync/internal/sync"
	"github.com/openmined/drivesync/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DRIVESYNC_REMOTE_BUCKET.
const EnvPrefix = "DRIVESYNC"

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".drivesync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLocalDir    = filepath.Join(home, "DriveSync")
	DefaultDBPath      = filepath.Join(DefaultConfigDir, "baseline.db")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "drivesync.log")
)

const (
	DefaultWorkers        = syncer.DefaultWorkers
	DefaultInterval       = syncer.DefaultInterval
	DefaultConflictPolicy = "remote"
)

var (
	ErrNoLocalDir = errors.New("local_dir is required")
	ErrNoRemote   = errors.New("remote.bucket or remote.dir is required")
)

// RemoteConfig selects the remote drive: an S3 bucket, or a directory such as a
// mounted network share.
type RemoteConfig struct {
	drive.S3Config `mapstructure:",squash"`

	Dir string `json:"dir,omitempty" mapstructure:"dir"`
}

// IsDir reports whether the remote is a plain directory.
func (r *RemoteConfig) IsDir() bool {
	return r.Dir != ""
}

type Config struct {
	LocalDir        string        `json:"local_dir" mapstructure:"local_dir"`
	DBPath          string        `json:"db_path" mapstructure:"db_path"`
	LogFile         string        `json:"log_file" mapstructure:"log_file"`
	Workers         int           `json:"workers" mapstructure:"workers"`
	ConflictPolicy  string        `json:"conflict_policy" mapstructure:"conflict_policy"`
	Interval        time.Duration `json:"interval" mapstructure:"interval"`
	Ignore          []string      `json:"ignore,omitempty" mapstructure:"ignore"`
	Include         []string      `json:"include,omitempty" mapstructure:"include"`
	CaseInsensitive bool          `json:"case_insensitive" mapstructure:"case_insensitive"`
	Remote          RemoteConfig  `json:"remote" mapstructure:"remote"`

	Path string `json:"-" mapstructure:"-"`
}

// SetDefaults registers every key so that environment overrides apply even
// when the config file does not mention the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("local_dir", DefaultLocalDir)
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("log_file", DefaultLogFilePath)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("conflict_policy", DefaultConflictPolicy)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("ignore", []string{})
	v.SetDefault("include", []string{})
	v.SetDefault("case_insensitive", false)
	for _, key := range []string{"bucket", "prefix", "region", "endpoint", "access_key", "secret_key", "dir"} {
		v.SetDefault("remote."+key, "")
	}
	v.SetDefault("remote.path_style", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load builds a validated config from v. Paths are made absolute.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.LocalDir, &c.DBPath, &c.LogFile, &c.Remote.Dir} {
		if *p == "" {
			continue
		}
		resolved, err := utils.ResolvePath(*p)
		if err != nil {
			return fmt.Errorf("config resolve %q: %w", *p, err)
		}
		*p = resolved
	}
	return nil
}

func (c *Config) Validate() error {
	if c.LocalDir == "" {
		return ErrNoLocalDir
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}

	switch {
	case c.Remote.Bucket == "" && c.Remote.Dir == "":
		return ErrNoRemote
	case c.Remote.Bucket != "" && c.Remote.Dir != "":
		return errors.New("remote.bucket and remote.dir are mutually exclusive")
	case c.Remote.Dir != "" && (utils.IsSubpath(c.LocalDir, c.Remote.Dir) || utils.IsSubpath(c.Remote.Dir, c.LocalDir)):
		return errors.New("remote.dir and local_dir must not contain each other")
	}

	// state files inside a synced tree would be synced and wake the watcher
	for _, f := range []struct{ key, path string }{
		{"db_path", c.DBPath},
		{"log_file", c.LogFile},
	} {
		if f.path == "" {
			continue
		}
		if utils.IsSubpath(c.LocalDir, f.path) {
			return fmt.Errorf("%s must be outside local_dir: %s", f.key, f.path)
		}
		if c.Remote.Dir != "" && utils.IsSubpath(c.Remote.Dir, f.path) {
			return fmt.Errorf("%s must be outside remote.dir: %s", f.key, f.path)
		}
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if _, err := syncer.PolicyByName(c.ConflictPolicy); err != nil {
		return err
	}
	return nil
}

// Save writes the config as JSON, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// may hold remote credentials
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	c.Path = path
	return nil
}
