package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/core/retention"
	"github.com/Ning0612/sftparchive/internal/domain"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Dir    string
	Prefix string
	Keep   int
	DryRun bool
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy without running a backup",
		Long: `Keep the newest archives in a directory and delete the rest.

Archives are ranked by the timestamp embedded in their name, falling back
to the file modification time. A keep count of 0 deletes nothing, and
neither does a directory that does not exist yet.
With --dir the configuration is not read at all.

Example:
  sftparchive prune --dir /backups --prefix site --keep 5 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "archive directory (default: output.dir from config)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "archive name prefix (default: output.prefix from config)")
	cmd.Flags().IntVar(&opts.Keep, "keep", 3, "number of newest archives to keep (default: output.keep from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list archives that would be removed without removing them")

	return cmd
}

func runPrune(cmd *cobra.Command, opts *PruneOptions) error {
	dir := opts.Dir
	policy := domain.RetentionPolicy{Prefix: opts.Prefix, Keep: opts.Keep, DryRun: opts.DryRun}

	if dir == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Output.Dir
		if !cmd.Flags().Changed("prefix") {
			policy.Prefix = cfg.Output.Prefix
		}
		if !cmd.Flags().Changed("keep") {
			policy.Keep = cfg.Output.Keep
		}
	} else if err := opts.initLogger(); err != nil {
		return WrapExitError(ExitConfigError, "failed to initialise logging", err)
	}

	if policy.Keep < 0 {
		return WrapExitError(ExitConfigError, "invalid --keep", domain.ErrConfigInvalid)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result, err := retention.NewManager().Prune(ctx, dir, policy)
	if err != nil {
		return err
	}

	verb := "removed"
	if policy.DryRun {
		verb = "would remove"
	}
	for _, name := range result.Removed {
		opts.printf("%s: %s\n", verb, name)
	}
	for _, f := range result.Failures {
		opts.printf("failed: %s: %v\n", f.Name, f.Err)
	}
	opts.printf("kept %d archive(s)\n", len(result.Kept))

	return nil
}
