package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tempolog/tempolog/internal/syncd"
)

// NewServeCommand runs the sync authority.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync authority server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Server.Secret == "" {
				return NewExitError(ExitCommandError, "TEMPOLOG_SECRET is not set")
			}

			authority, err := syncd.OpenAuthority(cfg.Server.AuthorityDB)
			if err != nil {
				return WrapExitError(ExitCommandError, "open authority", err)
			}
			defer authority.Close()

			notifier, err := buildNotifier(cfg.Server.RedisURL)
			if err != nil {
				return err
			}
			defer notifier.Close()

			server := syncd.NewServer(authority, syncd.NewTokens(cfg.Server.Secret), notifier, slog.Default())
			srv := &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           server.Router(syncd.ServerConfig{CORSAllowedOrigins: cfg.Server.CORSOrigins}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errs := make(chan error, 1)
			go func() {
				slog.Info("authority listening", "addr", cfg.Server.Listen)
				errs <- srv.ListenAndServe()
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return nil
			case err := <-errs:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return WrapExitError(ExitCommandError, "serve", err)
			}
		},
	}
}

// buildNotifier picks the wake fan-out implementation: redis when a URL
// is configured, in-process otherwise.
func buildNotifier(redisURL string) (syncd.Notifier, error) {
	if redisURL == "" {
		return syncd.NewLocalNotifier(), nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "parse redis url", err)
	}
	return syncd.NewRedisNotifier(redis.NewClient(redisOpts)), nil
}
