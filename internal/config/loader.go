package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/sftparchive/internal/domain"
)

// DefaultEnvFile is read before the environment is consulted, when present
const DefaultEnvFile = ".env"

// envBindings maps config keys to the environment variables of the
// original single-purpose tool
var envBindings = map[string]string{
	"source.host":           "SFTP_HOST",
	"source.port":           "SFTP_PORT",
	"source.user":           "SFTP_USER",
	"source.password":       "SFTP_PASS",
	"source.key_path":       "SFTP_KEY_PATH",
	"source.key_passphrase": "SFTP_KEY_PASSPHRASE",
	"source.known_hosts":    "SFTP_KNOWN_HOSTS",
	"source.dir":            "SFTP_DIR",
	"source.timeout":        "SFTP_TIMEOUT",
	"output.dir":            "OUTPUT_DIR",
	"output.prefix":         "ZIP_PREFIX",
	"output.keep":           "KEEP_BACKUPS",
}

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "sftparchive"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "sftparchive"))
		paths = append(paths, filepath.Join(homeDir, ".sftparchive"))
	}

	return paths
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.type", string(domain.SourceSFTP))
	v.SetDefault("source.port", 22)
	v.SetDefault("source.timeout", 30)
	v.SetDefault("source.dir", "")
	v.SetDefault("source.insecure_ignore_host_key", false)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.keep", 3)
	v.SetDefault("settings.state_dir", DefaultStateDir())
	v.SetDefault("settings.lock_dir", "")
	v.SetDefault("settings.temp_dir", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("schedule.interval", "0s")
	v.SetDefault("schedule.cron", "")
	v.SetDefault("metrics.listen", "")
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	// SFTPARCHIVE_OUTPUT_KEEP style overrides for every key
	v.SetEnvPrefix("SFTPARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit names win over the prefixed form
	for key, env := range envBindings {
		if err := v.BindEnv(key, env, "SFTPARCHIVE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	return v, nil
}

// Load builds the configuration from, in increasing priority: defaults,
// a YAML file, a dotenv file and the process environment.
// If path is empty, default locations are searched for config.yaml and a
// missing file is not an error. If envFile is empty, ./.env is used when present.
func Load(path, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path != "" {
		// Use specific file
		v.SetConfigFile(path)
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// Environment-only configuration
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string layered over
// defaults and the environment
func LoadFromString(yamlContent string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set are left alone.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, path, err)
	}

	// viper lower-cases keys; environment names are upper case by convention
	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}

	return nil
}
