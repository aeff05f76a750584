package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"botmaster/internal/config"
	"botmaster/internal/controller"
	"botmaster/internal/controller/handlers"
	"botmaster/internal/export"
	"botmaster/internal/logger"
	"botmaster/internal/observability"
	"botmaster/internal/service"
	"botmaster/internal/store/postgres"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, cfg, log); err != nil {
			log.Error("server stopped", "error", err)
			return err
		}
		log.Info("server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "botmaster",
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	db, err := postgres.New(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxOpenConns:   cfg.DBMaxOpenConns,
		MaxIdleConns:   cfg.DBMaxIdleConns,
		AcquireTimeout: cfg.DBAcquireTimeout,
		IdleTimeout:    cfg.DBIdleTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	signer, closeSigner, err := newSigner(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSigner()

	h := handlers.New(handlers.Services{
		Jobs:          service.NewJobService(db, log),
		Queues:        service.NewQueueService(db, log),
		QueueItems:    service.NewQueueItemService(db, signer, log),
		Triggers:      service.NewTriggerService(db, log),
		Workers:       service.NewWorkerService(db, log),
		Installations: service.NewWorkerInstallationService(db, log),
	}, db, log)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:                addr,
		DefaultOrganization: cfg.DefaultOrganization,
		RateLimit:           cfg.RateLimit,
		RateLimitBurst:      cfg.RateLimitBurst,
		Metrics:             metricsHandler,
		HTTPMetrics:         httpMetrics,
	}, h)

	log.Info("botmaster starting", "addr", addr)
	return srv.Run(ctx)
}

// newSigner signs against the export bucket when one is configured.
func newSigner(ctx context.Context, cfg *config.Config) (service.DownloadSigner, func() error, error) {
	if cfg.ExportBucket != "" {
		s, err := export.NewGCSSigner(ctx, cfg.ExportBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("init export signer: %w", err)
		}
		return s, s.Close, nil
	}
	s, err := export.NewStaticSigner(cfg.ExportBaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("init export signer: %w", err)
	}
	return s, func() error { return nil }, nil
}
