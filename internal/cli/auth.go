package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ning0612/sftparchive/internal/adapter/gdrive"
	"github.com/Ning0612/sftparchive/internal/domain"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to remote sources",
	}

	cmd.AddCommand(newAuthGDriveCommand(rootOpts))

	return cmd
}

func newAuthGDriveCommand(opts *RootOptions) *cobra.Command {
	var clientID, clientSecret, tokenPath string

	cmd := &cobra.Command{
		Use:   "gdrive",
		Short: "Obtain a Google Drive token for gdrive sources",
		Long: `Run the OAuth2 flow and store the token used by gdrive sources.

Credentials come from the flags or, when omitted, from the source section
of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" || clientSecret == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				clientID, clientSecret = cfg.Source.ClientID, cfg.Source.ClientSecret
				if tokenPath == "" {
					tokenPath = cfg.Source.TokenPath
				}
			} else if err := opts.initLogger(); err != nil {
				return WrapExitError(ExitConfigError, "failed to initialise logging", err)
			}

			if clientID == "" || clientSecret == "" {
				return WrapExitError(ExitConfigError, "client id and secret are required", domain.ErrConfigInvalid)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			auth := gdrive.NewAuthenticator(clientID, clientSecret, tokenPath)
			if _, err := auth.Authenticate(ctx, opts.Out); err != nil {
				return err
			}
			opts.printf("token saved to %s\n", auth.TokenPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().StringVar(&tokenPath, "token-path", "", "where to store the token")

	return cmd
}
