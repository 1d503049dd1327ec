package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	LogFormat  string

	// Out receives command output; defaults to the command's stdout
	Out io.Writer
}

// NewRootCommand creates the root command for the sftparchive CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sftparchive",
		Short: "Mirror a remote directory into timestamped zip archives",
		Long: `sftparchive mirrors a remote directory (SFTP, a local path or Google Drive)
into a temporary directory, packs it into one timestamped zip archive and keeps
only the newest archives.

Configuration comes from a YAML file, a .env file and the environment
(SFTP_HOST, SFTP_USER, SFTP_DIR, OUTPUT_DIR, ZIP_PREFIX, KEEP_BACKUPS, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Out == nil {
				opts.Out = cmd.OutOrStdout()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: search config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default: ./.env when present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format override (text|json)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))
	cmd.AddCommand(NewAuthCommand(opts))

	return cmd
}

// loadConfig reads the configuration and initialises the global logger from it
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "configuration error", err)
	}

	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if err := setupLogger(cfg.Logging.LoggerConfig()); err != nil {
		return nil, WrapExitError(ExitConfigError, "failed to initialise logging", err)
	}

	return cfg, nil
}

// initLogger sets up logging for commands that run without a configuration
func (o *RootOptions) initLogger() error {
	level, format := o.LogLevel, o.LogFormat
	if level == "" {
		level = "info"
	}
	return setupLogger(logger.NewConfig(level, format, logger.FileConfig{}))
}

// setupLogger replaces any logger left over from an earlier command in the
// same process
func setupLogger(cfg logger.Config) error {
	if err := logger.Shutdown(); err != nil {
		return err
	}
	return logger.Init(cfg)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (o *RootOptions) printf(format string, args ...any) {
	fmt.Fprintf(o.Out, format, args...)
}
