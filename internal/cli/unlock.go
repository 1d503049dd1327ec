package cli

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/lock"
)

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove a leftover run lock",
		Long: `Remove the lock file of the output directory after a crashed run.

Without --force the lock is only shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			fl, err := lock.NewFileLock(cfg.Settings.LockDir)
			if err != nil {
				return err
			}

			holder, err := fl.GetHolder()
			switch {
			case errors.Is(err, fs.ErrNotExist):
				opts.printf("no lock at %s\n", fl.Path())
				return nil
			case err != nil:
				// runs take over stale or unreadable locks anyway
				opts.printf("removing unusable lock at %s: %v\n", fl.Path(), err)
				return fl.ForceRelease()
			}

			opts.printf("lock held by PID %d on %s since %s (job: %s)\n",
				holder.PID, holder.Hostname, holder.StartTime.Local().Format(time.RFC3339), holder.Job)
			if !force {
				opts.printf("re-run with --force to remove it\n")
				return nil
			}

			if err := fl.ForceRelease(); err != nil {
				return err
			}
			opts.printf("lock removed\n")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove the lock even if its holder looks alive")

	return cmd
}
