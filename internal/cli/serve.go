package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nlmcp/nlmcp/internal/mcpserver"
)

const cleanupInterval = time.Minute

func newServeCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve notebook tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer app.browsers.Close()

			go reapLoop(ctx, app)

			srv := mcpserver.New(app.cfg, app.registry, app.store, app.log, version)
			return srv.Run(ctx)
		},
	}
}

func reapLoop(ctx context.Context, app *app) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.registry.CleanupInactiveSessions(); n > 0 {
				app.log.Info().Int("reaped", n).Msg("closed inactive sessions")
			}
		}
	}
}
