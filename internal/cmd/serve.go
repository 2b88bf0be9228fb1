package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/config"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/metrics"
	"github.com/nexusadvisory/llmgate/internal/observability"
	"github.com/nexusadvisory/llmgate/internal/server"
	"github.com/nexusadvisory/llmgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the HTTP gateway with graceful shutdown support.

Endpoints:
  POST /v1/generate   run a prompt through the gateway
  POST /v1/probe      probe every endpoint
  GET  /v1/status     dispatch mode, cursor, and quota window
  GET  /health[/live|/ready|/startup], /version, /metrics

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Validate the config file (restart to apply changes)

Set LLMGATE_ADMIN_TOKEN to enable POST /admin/signal.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}

	observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Profile)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		if err := observability.InitMetrics(cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
		signals.OnShutdown(func(ctx context.Context) error {
			return observability.StopMetrics()
		})
	}
	metrics.SetServerStartTime(time.Now())

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build gateway", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "gateway initialization failed")
	}

	hm := handlers.NewHealthManager(versionInfo.Version)
	if gw.quota != nil {
		hm.RegisterChecker("quota_store", handlers.CheckerFunc(gw.quota.Ping))
	}

	srv := server.New(server.Options{
		Config:        cfg.Server,
		Gateway:       gw.service,
		Health:        hm,
		ExposeMetrics: cfg.Metrics.Enabled,
		AdminToken:    os.Getenv(config.EnvPrefix + "_ADMIN_TOKEN"),
	})

	logger.Info("Initializing server",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.Int("pool_size", len(cfg.Gateway.Pool)),
		zap.Bool("fallback", cfg.Gateway.Fallback.Enabled()),
		zap.String("quota_store", cfg.Gateway.Quota.Store),
		zap.Int("metrics_port", observability.GetMetricsPort()))

	// Shutdown handlers run LIFO: server, then quota store, then logger.
	signals.OnShutdown(func(ctx context.Context) error {
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		return gw.Close()
	})
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: validating configuration")
		if _, err := config.LoadFile(ctx, cfgFile); err != nil {
			logger.Error("Configuration is invalid", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		logger.Info("Configuration is valid; restart to apply gateway changes")
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()
	// Listen returns once the shutdown handlers have run.
	go func() {
		err := signals.Listen(ctx)
		if err != nil {
			logger.Error("Signal handler error", zap.Error(err))
		}
		errChan <- err
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
