package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/daemon"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
	"github.com/Ning0612/sftparchive/internal/scheduler"
	"github.com/Ning0612/sftparchive/internal/service"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	Interval    string
	Cron        string
	MetricsAddr string
}

// NewDaemonCommand creates the daemon command and its stop/status subcommands.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run backups on a schedule in the foreground",
		Long: `Run a backup every schedule.interval or at every activation of
schedule.cron, one run at a time, until SIGINT or SIGTERM.

When metrics.listen is set, Prometheus metrics are served on /metrics.

Example:
  sftparchive daemon --interval 6h
  sftparchive daemon --cron "30 2 * * *" --metrics-listen :9108`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Interval, "interval", "", "run every duration, e.g. 6h (overrides schedule.interval)")
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression (overrides schedule.cron)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-listen", "", "address for /metrics (overrides metrics.listen)")

	cmd.AddCommand(newDaemonStopCommand(rootOpts))
	cmd.AddCommand(newDaemonStatusCommand(rootOpts))

	return cmd
}

// scheduleFromFlags merges the schedule flags over the configured schedule.
// Setting one kind on the command line clears the other.
func (o *DaemonOptions) scheduleFromFlags(cfg *config.Config) (scheduler.Config, error) {
	sched := scheduler.Config{Interval: cfg.Schedule.Interval, Cron: cfg.Schedule.Cron}

	if o.Interval != "" {
		d, err := time.ParseDuration(o.Interval)
		if err != nil || d <= 0 {
			return sched, fmt.Errorf("%w: invalid --interval %q", domain.ErrConfigInvalid, o.Interval)
		}
		sched = scheduler.Config{Interval: d}
	}
	if o.Cron != "" {
		if o.Interval != "" {
			return sched, fmt.Errorf("%w: --interval and --cron are mutually exclusive", domain.ErrConfigInvalid)
		}
		sched = scheduler.Config{Cron: o.Cron}
	}

	if sched.Interval <= 0 && sched.Cron == "" {
		return sched, fmt.Errorf("%w: daemon needs schedule.interval or schedule.cron", domain.ErrConfigInvalid)
	}
	return sched, nil
}

func runDaemon(cmd *cobra.Command, opts *DaemonOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	sched, err := opts.scheduleFromFlags(cfg)
	if err != nil {
		return WrapExitError(ExitConfigError, "invalid schedule", err)
	}
	metricsAddr := cfg.Metrics.Listen
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	pidPath, err := daemon.PIDPath(cfg.Settings.StateDir)
	if err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(pidPath)
	if err := pidFile.Write(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return WrapExitError(ExitLocked, "cannot start daemon", err)
		}
		return err
	}
	defer pidFile.Remove()

	history := openHistory(cfg)
	svcOpts := []service.Option{service.WithReporter(newLogReporter())}
	if history != nil {
		defer history.Close()
		svcOpts = append(svcOpts, service.WithHistory(history))
	}

	backup, err := service.NewBackupService(cfg, svcOpts...)
	if err != nil {
		return err
	}
	d, err := service.NewDaemonService(backup, history)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := d.Start(ctx, sched, metricsAddr); err != nil {
		return WrapExitError(ExitConfigError, "failed to start daemon", err)
	}
	opts.printf("daemon running (pid file %s), press Ctrl+C to stop\n", pidPath)

	<-ctx.Done()
	logger.Get().Info("shutting down daemon")

	if err := d.Stop(); err != nil {
		return err
	}

	if status := d.Status(); status.LastRun != nil {
		logger.Get().Info("last run", "id", status.LastRun.ID, "status", status.LastRun.Status)
	}
	return nil
}

func newDaemonStopCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile, err := opts.pidFile()
			if err != nil {
				return err
			}
			pid, running := pidFile.Running()
			if !running {
				opts.printf("daemon is not running\n")
				return nil
			}
			if err := pidFile.Kill(); err != nil {
				return err
			}
			opts.printf("stop signal sent to PID %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile, err := opts.pidFile()
			if err != nil {
				return err
			}
			pid, running := pidFile.Running()
			if !running {
				opts.printf("daemon is not running\n")
				return nil
			}
			opts.printf("daemon is running (PID %d)\n", pid)
			return nil
		},
	}
}

// pidFile locates the daemon PID file through the configured state directory
func (o *RootOptions) pidFile() (*daemon.PIDFile, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	path, err := daemon.PIDPath(cfg.Settings.StateDir)
	if err != nil {
		return nil, err
	}
	return daemon.NewPIDFile(path), nil
}
