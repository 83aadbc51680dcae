package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitparty/config"
	"fitparty/handlers"
	"fitparty/middleware"
	"fitparty/models"
	"fitparty/services"
	"fitparty/utils"
	"fitparty/workers"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gormLevel := gormlogger.Warn
	if cfg.Env == "production" {
		gormLevel = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormLevel),
	})
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return err
	}

	var archiver services.Archiver
	if cfg.ArchiveEnabled() {
		r2, err := utils.NewR2Archiver(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
		})
		if err != nil {
			return err
		}
		archiver = r2
		logger.Info("party archive enabled", zap.String("bucket", cfg.R2Bucket))
	}

	parties := services.NewPartyService(db, logger, cfg.PartyTTL)
	sweeper := services.NewSweepService(db, logger, cfg.PartyRetention, archiver)

	if cfg.SweepInterval > 0 {
		sched, err := sweeper.StartSweepScheduler(cfg.SweepInterval)
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Shutdown(); err != nil {
				logger.Warn("scheduler shutdown", zap.Error(err))
			}
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:      "fitparty",
		BodyLimit:    64 * 1024,
		ErrorHandler: handlers.ErrorHandler(logger),
	})
	middleware.SetupMiddleware(app, cfg.AllowedOrigins)

	partyHandler := handlers.NewPartyHandler(parties, logger)
	partyHandler.BaseContext = ctx

	handlers.SetupHealthRoutes(app, db)
	handlers.SetupCronRoutes(app, sweeper, cfg.CronSecret, logger)
	if err := handlers.SetupPartyRoutes(app, partyHandler, handlers.RouteConfig{
		AuthMode:     cfg.AuthMode,
		JWTSecret:    cfg.JWTSecret,
		GatewayToken: cfg.GatewayToken,
		Log:          logger,
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("port", cfg.Port),
			zap.String("auth_mode", cfg.AuthMode),
			zap.Strings("allowed_origins", cfg.AllowedOrigins))
		return app.Listen(":" + cfg.Port)
	})

	if cfg.ProfileSyncEnabled() {
		worker := workers.NewProfileSyncWorker(db, logger, cfg.ProfileSyncURL, cfg.ProfileSyncToken, cfg.ProfileSyncInterval)
		g.Go(func() error { return worker.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
