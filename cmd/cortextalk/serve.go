package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/normanking/cortextalk/internal/bridge"
	"github.com/normanking/cortextalk/internal/chat"
	"github.com/normanking/cortextalk/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the widget to browser pages",
		Long:  "Run the WebSocket bridge. Each connected page gets its own conversation session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, logs, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer logs.Close()
			logger := logs.Component("main")

			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.UI.ListenAddr = addr
			}
			if dir, _ := cmd.Flags().GetString("static"); dir != "" {
				cfg.UI.StaticDir = dir
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transport := chat.NewClient(&chat.ClientConfig{
				Endpoint: cfg.Server.ChatURL,
				Timeout:  cfg.Server.Timeout,
			}, logs.Zerolog())
			server := bridge.NewServer(cfg, transport, logs, logs.Zerolog())

			listenAddr, staticDir := cfg.UI.ListenAddr, cfg.UI.StaticDir
			err = config.Watch(v, func(next *config.Config, e fsnotify.Event) {
				if err := next.Validate(); err != nil {
					logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration")
					return
				}
				next.UI.ListenAddr, next.UI.StaticDir = listenAddr, staticDir
				logger.Info().Str("file", e.Name).Int("pages", server.Conns()).Msg("Configuration changed")
				server.ApplyConfig(next)
			}, func(err error) {
				logger.Error().Err(err).Msg("Failed to reload configuration")
			})
			switch {
			case errors.Is(err, config.ErrNoConfigFile):
				logger.Info().Msg("No config file, hot reload disabled")
			case err != nil:
				return err
			}

			logger.Info().
				Str("chatURL", cfg.Server.ChatURL).
				Str("logFile", logs.GetLogPath()).
				Msg("cortextalk starting")
			return server.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides ui.listen_addr)")
	cmd.Flags().String("static", "", "directory of page assets to serve at /")
	return cmd
}
