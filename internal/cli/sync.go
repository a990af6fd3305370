package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/syncer"
)

// NewSyncCommand runs the replica's sync engine in the foreground until
// interrupted or a terminal protocol failure.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the local log with the authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Sync.URL == "" {
				return NewExitError(ExitCommandError, "sync.url is not configured")
			}
			if cfg.Sync.Token == "" {
				return NewExitError(ExitCommandError, "TEMPOLOG_TOKEN is not set")
			}

			st, cleanup, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer cleanup()

			engine := syncer.New(st,
				syncer.NewClient(cfg.Sync.URL, cfg.Sync.Token),
				syncer.WithLogger(slog.Default()),
				syncer.WithPollInterval(cfg.Sync.PollInterval),
				syncer.WithLongPoll(cfg.Sync.LongPoll),
			)
			if err := engine.Run(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "sync stopped", err)
			}
			return nil
		},
	}
}
