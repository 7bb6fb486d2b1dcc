package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/idempotency"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/server"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/sweeper"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governor",
	Long:  `Starts the HTTP ingress and the background janitor, with everything both need: store, policy engine, model router, tool pool and forge client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			return fmt.Errorf("parse server.shutdown_timeout: %w", err)
		}

		st, err := store.Open(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		deps, err := wireRuntime(ctx, cfg, st)
		if err != nil {
			return err
		}
		defer deps.Close()

		deliveries, err := idempotency.Open(store.DeliveriesPath(st.DataDir()), idempotency.DefaultTTL)
		if err != nil {
			return fmt.Errorf("open delivery ledger: %w", err)
		}

		srv, err := server.New(cfg.Server, server.Deps{
			Projects:   deps.projects,
			Trust:      deps.classifier,
			Invoker:    deps.invoker,
			Deliveries: deliveries,
		})
		if err != nil {
			return fmt.Errorf("build http server: %w", err)
		}

		registry := notify.NewRegistry()
		registerChatSinks(registry, cfg.Notify)

		var janitor *sweeper.Sweeper
		if cfg.Sweeper.Enabled {
			janitor, err = sweeper.New(st, registry, cfg.Sweeper)
			if err != nil {
				return fmt.Errorf("build sweeper: %w", err)
			}
			if err := janitor.Start(); err != nil {
				return fmt.Errorf("start sweeper: %w", err)
			}
		}

		srv.Start()
		slog.Info("Warden up", "port", cfg.Server.Port, "projects_dir", cfg.ProjectsDir, "sweeper", cfg.Sweeper.Enabled)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case got := <-sig:
			slog.Info("Shutdown signal received", "signal", got.String())
		case <-ctx.Done():
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := srv.Stop(stopCtx); err != nil {
			slog.Warn("HTTP server did not stop cleanly", "error", err)
		}
		if janitor != nil {
			if err := janitor.Stop(stopCtx); err != nil {
				slog.Warn("Sweeper did not stop cleanly", "error", err)
			}
		}

		slog.Info("Warden stopped")
		return nil
	},
}

// registerChatSinks wires the configured chat targets. An empty config
// leaves the registry empty and broadcasts become no-ops.
func registerChatSinks(registry *notify.Registry, cfg config.NotifyConfig) {
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		if err := registry.Register(notify.NewSlackSink(cfg.Slack.Token, cfg.Slack.Channel)); err != nil {
			slog.Warn("Slack sink not registered", "error", err)
		}
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		sink, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			slog.Warn("Telegram sink not registered", "error", err)
			return
		}
		if err := registry.Register(sink); err != nil {
			slog.Warn("Telegram sink not registered", "error", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "listen port")
	serveCmd.Flags().String("server.read_timeout", config.DefaultServerReadTimeout, "request read timeout")
}
