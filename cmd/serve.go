package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/internal/observability"
	"github.com/xkilldash9x/browserd/internal/webapi"
	"github.com/xkilldash9x/browserd/pkg/browser/cdp"
	"github.com/xkilldash9x/browserd/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the browser and serve the tab control API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	manager, err := cdp.NewManager(ctx, logger, cfg)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(logger, manager, metrics, cfg.Session)
	svc := session.NewService(logger, sessions, metrics, cfg.Humanize)
	server := webapi.NewServer(logger, svc, registry, cfg.Server)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe()
	})

	g.Go(func() error {
		sessions.RunSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received.")

		// Give in-flight requests and teardown a bounded grace period.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete.", zap.Error(err))
		}
		sessions.CloseAll(shutdownCtx)
		return manager.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("browserd stopped.")
	return nil
}
