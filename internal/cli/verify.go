package cli

import (
	"github.com/spf13/cobra"
)

// NewVerifyCommand checks that the materialized snapshot matches a full
// replay of the log. Exit code 1 on divergence.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the snapshot against a full deterministic replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			st, cleanup, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer cleanup()

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if err := st.VerifyReplay(cmd.Context()); err != nil {
				_ = out.Error("E_REPLAY", "replay verification failed", err.Error())
				return NewExitError(ExitFailure, "replay verification failed")
			}
			return out.Success("replay verified: snapshot matches full replay")
		},
	}
}
