package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/progress"
	"github.com/Ning0612/sftparchive/internal/state"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit  int
	Remote bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		Long: `List recorded runs, newest first.

Example:
  sftparchive history --limit 5
  sftparchive history --remote`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "only show runs of the configured remote directory")

	return cmd
}

func runHistory(opts *HistoryOptions) error {
	if opts.Limit <= 0 {
		return WrapExitError(ExitConfigError, "invalid --limit", domain.ErrConfigInvalid)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	history, err := state.NewManager(cfg.Settings.StateDir)
	if err != nil {
		return err
	}
	defer history.Close()

	var runs []domain.RunReport
	if opts.Remote {
		runs, err = history.GetRemoteHistory(cfg.Source.Dir, opts.Limit)
	} else {
		runs, err = history.GetHistory(opts.Limit)
	}
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		opts.printf("no runs recorded\n")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tREMOTE\tFILES\tSIZE\tDURATION\tARCHIVE")
	for _, r := range runs {
		archive := r.ArchivePath
		if r.Status == domain.RunFailed {
			archive = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.RemoteDir,
			r.Files,
			progress.FormatBytes(r.Bytes),
			r.Duration().Round(time.Second),
			archive,
		)
	}
	return w.Flush()
}
