package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/logger"
	"github.com/Ning0612/sftparchive/internal/progress"
	"github.com/Ning0612/sftparchive/internal/service"
	"github.com/Ning0612/sftparchive/internal/state"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoHistory bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backup now",
		Long: `Mirror the configured remote directory, archive it and prune old archives.

Exit codes: 0 success, 1 run failure, 2 configuration error, 3 another run
holds the lock.

Example:
  SFTP_HOST=files.example.com SFTP_USER=backup SFTP_DIR=/var/www sftparchive run
  sftparchive run --config ./sftparchive.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record the run in the history database")

	return cmd
}

func runBackup(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	svcOpts := []service.Option{service.WithReporter(newLogReporter())}
	if !opts.NoHistory {
		if history := openHistory(cfg); history != nil {
			defer history.Close()
			svcOpts = append(svcOpts, service.WithHistory(history))
		}
	}

	svc, err := service.NewBackupService(cfg, svcOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}

	opts.printf("archive: %s\n", report.ArchivePath)
	if report.Checksum != "" {
		opts.printf("sha256: %s\n", report.Checksum)
	}
	opts.printf("files: %d, dirs: %d, size: %s, took %s\n",
		report.Files, report.Dirs, progress.FormatBytes(report.Bytes), report.Duration().Round(time.Millisecond))
	for _, name := range report.Pruned {
		opts.printf("pruned: %s\n", name)
	}
	return nil
}

// openHistory opens the run history; a broken history database never
// prevents a backup
func openHistory(cfg *config.Config) *state.Manager {
	history, err := state.NewManager(cfg.Settings.StateDir)
	if err != nil {
		logger.Get().Warn("run history unavailable", "dir", cfg.Settings.StateDir, "error", err)
		return nil
	}
	return history
}

// newLogReporter logs mirror progress at debug level
func newLogReporter() progress.Reporter {
	log := logger.Get()
	return progress.NewTracker(func(ev progress.Event) {
		switch ev.Kind {
		case progress.KindDir:
			log.Debug("listing", "dir", ev.Dir)
		case progress.KindDone:
			log.Debug("fetched",
				"file", ev.File,
				"size", progress.FormatBytes(ev.Read),
				"files", ev.Totals.Files,
				"speed", progress.FormatSpeed(ev.Rate))
		case progress.KindError:
			log.Debug("fetch failed", "file", ev.File, "error", ev.Err)
		}
	})
}
