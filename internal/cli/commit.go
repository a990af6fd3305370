package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/event"
)

// NewCommitCommand appends one event to the local log.
//
// Mostly a debugging and scripting surface; the payload goes through
// the same validation and commit pipeline as any embedding client.
func NewCommitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <event-name> <payload-json>",
		Short: "Validate and append one event to the local log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, raw := args[0], args[1]

			payload, err := event.DecodePayload(name, []byte(raw))
			if err != nil {
				return WrapExitError(ExitFailure, "decode payload", err)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, cleanup, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := st.Commit(cmd.Context(), payload)
			if err != nil {
				return WrapExitError(ExitFailure, "commit", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return out.Success(fmt.Sprintf("committed %s as %s (seq %d)", name, events[0].ID, events[0].Seq))
		},
	}
}
