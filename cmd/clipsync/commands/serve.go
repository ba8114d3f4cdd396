package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/clipsync/internal/config"
	"github.com/dyluth/clipsync/internal/logging"
	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/internal/notify"
	"github.com/dyluth/clipsync/internal/printer"
	"github.com/dyluth/clipsync/internal/registry"
	"github.com/dyluth/clipsync/internal/server"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the clipsync server",
	Long: `Run the clipsync server.

Configuration is read from clipsync.yml in the current directory (or the file
given with --config). Without a file the defaults are used: listen on :22010
with a Redis registry at redis://localhost:6379/0.

Environment variables override file values, and a .env file in the current
directory is loaded first when present:
  CLIPSYNC_ADDR, CLIPSYNC_REGISTRY, CLIPSYNC_REDIS_URL, CLIPSYNC_NAMESPACE,
  CLIPSYNC_SQLITE_PATH, CLIPSYNC_LOG_LEVEL, CLIPSYNC_BARK_URL

Examples:
  # Run with defaults
  clipsync serve

  # Use the embedded SQLite registry
  CLIPSYNC_REGISTRY=sqlite clipsync serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", config.DefaultPath, "Path to clipsync.yml")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(serveConfigPath)
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or remove it to use the defaults.", serveConfigPath)},
		)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return printer.Error("invalid configuration", err.Error(), []string{"Check the CLIPSYNC_* environment variables and .env."})
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return printer.Error("invalid logging configuration", err.Error(), nil)
	}

	reg, err := registry.Open(registry.Options{
		Driver:     cfg.Registry.Driver,
		RedisURL:   cfg.Registry.RedisURL,
		Namespace:  cfg.Registry.Namespace,
		SQLitePath: cfg.Registry.SQLitePath,
	})
	if err != nil {
		return printer.ErrorWithContext("failed to open registry", err.Error(),
			map[string]string{"Driver": cfg.Registry.Driver}, nil)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.ShutdownTimeout)
	err = reg.Ping(ctx)
	cancel()
	if err != nil {
		return printer.ErrorWithContext("registry not accessible", err.Error(),
			map[string]string{"Driver": cfg.Registry.Driver, "Redis URL": cfg.Registry.RedisURL},
			[]string{
				"Start Redis: docker run -d -p 6379:6379 redis:7-alpine",
				"Use the SQLite registry: CLIPSYNC_REGISTRY=sqlite clipsync serve",
			})
	}

	opts := []server.Option{}
	if cfg.Notify.Enabled {
		opts = append(opts, server.WithNotifier(notify.NewBark(cfg.Notify.BarkURL, cfg.Notify.Timeout)))
	}

	store := mailbox.NewStore(cfg.Mailbox.HistoryCapacity, cfg.Mailbox.FanoutBuffer)
	srv := server.New(reg, store, logger, opts...)
	if err := srv.Start(cfg.Server.Addr); err != nil {
		return printer.Error("failed to start server", err.Error(), []string{"Choose another address with CLIPSYNC_ADDR or server.addr."})
	}
	printer.Success("clipsync listening on %s (registry: %s)\n", srv.Addr(), cfg.Registry.Driver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	printer.Step("Received %v, shutting down...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		printer.Warning("shutdown incomplete: %v\n", err)
	}

	printer.Success("clipsync stopped\n")
	return nil
}
