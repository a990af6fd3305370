package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/event"
)

// NewLogCommand dumps the event log in deterministic merge order.
func NewLogCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Dump the event log in merge order",
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

			events := st.Events()
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			w := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(w).Encode(events)
			}
			for _, ev := range events {
				local := ""
				if event.LocalOnly(ev.Name) {
					local = " (local)"
				}
				fmt.Fprintf(w, "%6d  %-8.8s  %-26s  %s%s\n", ev.Seq, ev.Origin, ev.Name, ev.ID, local)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n events")
	return cmd
}
