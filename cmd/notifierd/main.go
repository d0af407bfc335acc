package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpckit/alloc-notifier/internal/config"
	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/handler"
	"github.com/hpckit/alloc-notifier/internal/infra/postgresql"
	"github.com/hpckit/alloc-notifier/internal/infra/postgresql/migrations"
	"github.com/hpckit/alloc-notifier/internal/observability"
	"github.com/hpckit/alloc-notifier/internal/provider"
	"github.com/hpckit/alloc-notifier/internal/ratelimit"
	"github.com/hpckit/alloc-notifier/internal/repository"
	"github.com/hpckit/alloc-notifier/internal/service"
	"github.com/hpckit/alloc-notifier/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.ValidateDaemon(); err != nil {
		log.Fatal("invalid daemon config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if cfg.RunMigrations {
		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	store, err := repository.NewFileBatchStore(cfg.BatchDir, logger)
	if err != nil {
		logger.Fatal("batch store initialization failed", zap.Error(err))
	}

	batches, err := service.NewBatchService(store, cfg.MaxRetries, logger)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	// Day-granular batch identity: a rescan of the same window on the same
	// day resumes the existing record instead of minting a second one.
	batches.SetNow(func() time.Time {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	})

	p, err := buildProvider(cfg)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}
	if closer, ok := p.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck
	}

	limiter := ratelimit.NewTokenBucket(float64(cfg.SendRatePerSec))
	delivery, err := service.NewDeliveryService(batches, p, limiter, logger)
	if err != nil {
		logger.Fatal("delivery service initialization failed", zap.Error(err))
	}

	expiry, err := service.NewExpiryService(repository.NewGormAllocationRepo(db), logger)
	if err != nil {
		logger.Fatal("expiry service initialization failed", zap.Error(err))
	}

	windows, err := cfg.Windows()
	if err != nil {
		logger.Fatal("invalid expiry windows", zap.Error(err))
	}
	interval, err := cfg.ScanEvery()
	if err != nil {
		logger.Fatal("invalid scan interval", zap.Error(err))
	}

	ledger := repository.NewGormScanRunRepo(db)
	scheduler, err := service.NewScheduler(delivery, batches, expiry, ledger, windows, interval, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	batches.SetMetrics(metrics)
	delivery.SetMetrics(metrics)
	scheduler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterOpsRoutes(app, sqlDB, store, ledger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("ops server starting", zap.Int("port", cfg.OpsPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.OpsPort)); err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("alloc-notifier daemon started",
		zap.String("provider", p.Name()),
		zap.Ints("expiryWindowDays", windows),
		zap.Duration("scanInterval", interval),
		zap.String("batchDir", cfg.BatchDir),
	)

	if err := g.Wait(); err != nil {
		logger.Fatal("daemon failed", zap.Error(err))
	}
	logger.Info("daemon stopped cleanly")
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case "webhook":
		return provider.NewWebhookProvider(cfg.WebhookURL)
	case "amqp":
		return provider.NewAMQPProvider(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRouting)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (want smtp, webhook or amqp)", domain.ErrValidation, cfg.Provider)
	}
}
