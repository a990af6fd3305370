package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/query"
)

// statusReport is the data shape for the status command.
type statusReport struct {
	Origin   string `json:"origin"`
	Seq      int64  `json:"seq"`
	Events   int    `json:"events"`
	Pending  int    `json:"pending"`
	Cursor   int64  `json:"cursor"`
	Active   int    `json:"activeTodos"`
	Complete int    `json:"completedTodos"`
}

func (r statusReport) String() string {
	return fmt.Sprintf("origin %s\nseq %d\nevents %d\npending %d\ncursor %d\ntodos %d active / %d completed",
		r.Origin, r.Seq, r.Events, r.Pending, r.Cursor, r.Active, r.Complete)
}

// NewStatusCommand reports the replica's identity and log position.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show replica identity, log position, and sync backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, cleanup, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer cleanup()

			pending, err := st.Pending(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "read pending", err)
			}
			cursor, err := st.Cursor(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "read cursor", err)
			}
			counts, err := st.Queries().Evaluate(query.TodoCounts{})
			if err != nil {
				return WrapExitError(ExitCommandError, "evaluate counts", err)
			}
			c := counts.(query.Counts)

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return out.Success(statusReport{
				Origin:   st.Origin(),
				Seq:      st.Seq(),
				Events:   len(st.Events()),
				Pending:  len(pending),
				Cursor:   cursor,
				Active:   c.Active,
				Complete: c.Completed,
			})
		},
	}
}
