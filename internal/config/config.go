package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// Config represents the complete configuration for sftparchive
type Config struct {
	// Source is the remote side of every run
	Source domain.Source `mapstructure:"source"`

	// Output is where archives are written and pruned
	Output OutputConfig `mapstructure:"output"`

	// Settings holds working directories
	Settings Settings `mapstructure:"settings"`

	Logging  LoggingConfig  `mapstructure:"logging"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// OutputConfig describes the archive directory and its retention
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
	// Keep is the number of newest archives retained; 0 disables pruning
	Keep int `mapstructure:"keep"`
}

// Policy returns the retention policy for the output directory
func (o OutputConfig) Policy() domain.RetentionPolicy {
	return domain.RetentionPolicy{Prefix: o.Prefix, Keep: o.Keep}
}

// Settings holds the directories sftparchive works in
type Settings struct {
	// StateDir holds the run history database
	StateDir string `mapstructure:"state_dir"`
	// LockDir holds the run lock; defaults to the output directory
	LockDir string `mapstructure:"lock_dir"`
	// TempDir is where mirrors are staged; empty means the system default
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotated log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggerConfig converts the logging section to a logger configuration
func (l LoggingConfig) LoggerConfig() logger.Config {
	return logger.NewConfig(l.Level, l.Format, logger.FileConfig{
		Enabled:    l.File.Enabled,
		Path:       l.File.Path,
		MaxSizeMB:  l.File.MaxSizeMB,
		MaxAgeDays: l.File.MaxAgeDays,
		MaxBackups: l.File.MaxBackups,
		Compress:   l.File.Compress,
	})
}

// ScheduleConfig drives daemon mode; set either Interval or Cron
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cron     string        `mapstructure:"cron"`
}

// MetricsConfig configures the Prometheus endpoint of daemon mode
type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it
	Listen string `mapstructure:"listen"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	src := c.Source
	if !src.Type.IsValid() {
		return fmt.Errorf("%w: invalid source type: %q", domain.ErrConfigInvalid, src.Type)
	}

	switch src.Type {
	case domain.SourceSFTP:
		if src.Host == "" {
			return fmt.Errorf("%w: source.host (SFTP_HOST) must be set", domain.ErrConfigInvalid)
		}
		if src.User == "" {
			return fmt.Errorf("%w: source.user (SFTP_USER) must be set", domain.ErrConfigInvalid)
		}
		if src.Port < 1 || src.Port > 65535 {
			return fmt.Errorf("%w: source.port out of range: %d", domain.ErrConfigInvalid, src.Port)
		}
		if src.KeyPassphrase != "" && src.KeyPath == "" {
			return fmt.Errorf("%w: source.key_passphrase set without source.key_path", domain.ErrConfigInvalid)
		}
	case domain.SourceLocal:
		if src.Root == "" {
			return fmt.Errorf("%w: source.root must be set for local sources", domain.ErrConfigInvalid)
		}
	case domain.SourceGDrive:
		if src.ClientID == "" || src.ClientSecret == "" {
			return fmt.Errorf("%w: source.client_id and source.client_secret must be set for gdrive sources",
				domain.ErrConfigInvalid)
		}
	}

	if src.Dir == "" {
		return fmt.Errorf("%w: source.dir (SFTP_DIR) must be set", domain.ErrConfigInvalid)
	}
	if src.Timeout < 0 {
		return fmt.Errorf("%w: source.timeout cannot be negative: %d", domain.ErrConfigInvalid, src.Timeout)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("%w: output.dir (OUTPUT_DIR) cannot be empty", domain.ErrConfigInvalid)
	}
	if c.Output.Keep < 0 {
		return fmt.Errorf("%w: output.keep (KEEP_BACKUPS) cannot be negative: %d", domain.ErrConfigInvalid, c.Output.Keep)
	}
	if strings.ContainsAny(c.Output.Prefix, `/\`) {
		return fmt.Errorf("%w: output.prefix (ZIP_PREFIX) cannot contain path separators: %q",
			domain.ErrConfigInvalid, c.Output.Prefix)
	}

	if c.Schedule.Interval < 0 {
		return fmt.Errorf("%w: schedule.interval cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Schedule.Interval > 0 && c.Schedule.Cron != "" {
		return fmt.Errorf("%w: schedule.interval and schedule.cron are mutually exclusive", domain.ErrConfigInvalid)
	}

	if c.Logging.File.Enabled && c.Logging.File.Path == "" {
		return fmt.Errorf("%w: logging.file.path must be set when file logging is enabled", domain.ErrConfigInvalid)
	}

	return nil
}

// normalize trims values the way the environment tends to deliver them and
// expands paths
func (c *Config) normalize() {
	c.Source.Type = domain.SourceType(strings.ToLower(strings.TrimSpace(string(c.Source.Type))))
	c.Source.Host = strings.TrimSpace(c.Source.Host)
	c.Source.Dir = strings.TrimSpace(c.Source.Dir)
	c.Output.Prefix = strings.TrimSpace(c.Output.Prefix)

	if c.Source.Root != "" {
		c.Source.Root = ExpandPath(c.Source.Root)
	}
	if c.Output.Dir != "" {
		c.Output.Dir = ExpandPath(c.Output.Dir)
	}
	if c.Settings.StateDir != "" {
		c.Settings.StateDir = ExpandPath(c.Settings.StateDir)
	}
	if c.Settings.LockDir == "" {
		c.Settings.LockDir = c.Output.Dir
	} else {
		c.Settings.LockDir = ExpandPath(c.Settings.LockDir)
	}
	if c.Settings.TempDir != "" {
		c.Settings.TempDir = ExpandPath(c.Settings.TempDir)
	}
	if c.Logging.File.Path != "" {
		c.Logging.File.Path = ExpandPath(c.Logging.File.Path)
	}
}

// DefaultStateDir returns the per-user directory holding run history
func DefaultStateDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "sftparchive")
	}
	return ".sftparchive"
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
