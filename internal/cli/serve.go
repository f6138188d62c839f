package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
	"github.com/tbourn/pos-device-bridge/internal/observability"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := opts.Config
			shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version(), cfg.Upstream.TerminalCode)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					log.Warn().Err(err).Msg("tracing shutdown")
				}
			}()

			log.Info().
				Str("version", version()).
				Str("terminal", cfg.Upstream.TerminalCode).
				Str("db_driver", cfg.DB.Driver).
				Msg("starting posbridge")

			return withApp(opts, func(a *app.App) error { return a.Serve(ctx) })
		},
	}
}
