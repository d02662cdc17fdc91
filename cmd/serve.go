package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/internal/relay"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := relay.NewServer(cfg.Server)

			// Transport settings need a restart; the sweep TTL hot-reloads.
			stopWatch, err := config.Watch(resolveConfigPath(), func(newCfg *config.Config) {
				srv.SetSessionTTL(newCfg.Server.SessionTTL.Std())
				slog.Info("session ttl updated", "ttl", newCfg.Server.SessionTTL.Std())
			})
			if err != nil {
				slog.Warn("config watch unavailable", "error", err)
			} else {
				defer stopWatch()
			}

			return srv.Run(ctx)
		},
	}
}
