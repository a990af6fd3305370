package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/syncd"
)

// NewTokenCommand mints a bearer token for a replica.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		origin string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a sync bearer token for a replica origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Server.Secret == "" {
				return NewExitError(ExitCommandError, "TEMPOLOG_SECRET is not set")
			}
			if origin == "" {
				return NewExitError(ExitCommandError, "--origin is required")
			}

			token, err := syncd.NewTokens(cfg.Server.Secret).Mint(origin, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "mint token", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return out.Success(token)
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "replica origin id the token is minted for")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
