package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/core/store"
	apperrors "github.com/novelcondense/novelcondense/internal/errors"
	"github.com/novelcondense/novelcondense/internal/observability"
	"github.com/novelcondense/novelcondense/internal/server"
	"github.com/novelcondense/novelcondense/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatcher over HTTP",
	Long: `Serve the dispatcher over HTTP. POST /v1/condense sends text through the
credential pool; /v1/summary and /v1/credentials report usage and key state;
/metrics exposes Prometheus metrics.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		requireCredentials(cfg)
		rt, err := newDispatchRuntime(cfg, logger)
		if err != nil {
			return err
		}

		hm := handlers.NewHealthManager(versionInfo.Version)
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			logger.Warn("Store unavailable, readiness will not include it", zap.Error(err))
		} else {
			defer db.Close() // nolint:errcheck // best-effort cleanup
			hm.RegisterChecker("store", storeChecker(db))
		}

		srv := server.New(cfg.Server, server.Deps{
			Dispatcher: rt.dispatcher,
			Metrics:    rt.metrics,
			Health:     hm,
		})

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("addr", srv.Addr()),
			zap.Int("credentials", rt.registry.Len()),
			zap.String("prompt", rt.invoker.Prompt().Slug))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Handlers run LIFO: the HTTP server stops before the logger flushes.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.NewInternalError("server shutdown failed: " + err.Error())
			}
			summary := rt.dispatcher.Summary()
			logger.Info("HTTP server stopped gracefully",
				zap.Int("attempted", summary.Attempted),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed))
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading configuration")
			v, err := config.NewViper(cfgFile)
			if err != nil {
				logger.Error("Failed to read config file", zap.Error(err))
				return err
			}
			if _, err := config.Load(v); err != nil {
				logger.Error("Configuration is invalid, keeping the running one", zap.Error(err))
				return err
			}
			// Credentials and limits are fixed for the life of the dispatcher.
			logger.Info("Configuration is valid; restart to apply credential or limit changes",
				zap.String("file", v.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return apperrors.NewServiceUnavailableError("server error: " + err.Error())
		}
		return nil
	},
}

func storeChecker(db *store.Store) handlers.HealthChecker {
	return handlers.HealthCheckerFunc(func(ctx context.Context) error {
		if err := db.DB.PingContext(ctx); err != nil {
			return apperrors.WrapDatabaseError(ctx, err, "store ping failed")
		}
		return nil
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	bindFlag("server.host", serveCmd, "host")
	bindFlag("server.port", serveCmd, "port")
}
