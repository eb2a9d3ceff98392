package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mediaforge/api/internal/cache"
	"mediaforge/api/internal/config"
	"mediaforge/api/internal/database"
	"mediaforge/api/internal/handlers"
	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/log"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/provider"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/server"
	"mediaforge/api/internal/service"
	"mediaforge/api/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBuckets(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure buckets failed")
	}

	defaults := quota.Defaults{
		models.ResourceImage: {Policy: models.QuotaPolicyLimited, Limit: cfg.Quotas.ImageLimit},
		models.ResourceVideo: {Policy: models.QuotaPolicyLimited, Limit: cfg.Quotas.VideoLimit},
		models.ResourceText:  {Policy: models.QuotaPolicyLimited, Limit: cfg.Quotas.TextLimit},
	}

	userRepo := repository.NewUserRepository(dbPool)
	jobRepo := repository.NewJobRepository(dbPool)
	mediaRepo := repository.NewMediaRepository(dbPool)
	ledger := repository.NewQuotaRepository(dbPool, defaults)

	providerClient := provider.NewRESTClient(cfg.Provider, logger)

	mediaService := service.NewMediaService(mediaRepo, objectStore, userRepo, cfg.Security.SignatureSecret, logger)
	jobService := jobs.NewService(jobRepo, ledger, providerClient, mediaService, userRepo,
		cfg.Jobs.TimeoutCeiling, cfg.Jobs.Retention, logger)
	enqueuer := jobs.NewEnqueuer(redisClient, cfg.Jobs.SubmitStream)
	generationService := service.NewGenerationService(ledger, jobService, enqueuer, providerClient,
		mediaService, cfg.Provider, logger)
	authService := service.NewAuthService(userRepo, ledger, cfg, logger)

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:        logger,
		Cfg:        cfg,
		DB:         dbPool,
		Cache:      redisClient,
		Users:      userRepo,
		Ledger:     ledger,
		JobService: jobService,
		Media:      mediaService,
		Generation: generationService,
		Auth:       authService,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumer := jobs.NewConsumer(redisClient, cfg.Jobs.SubmitStream, cfg.Jobs.ConsumerGroup,
		cfg.Jobs.ConsumerName, cfg.Jobs.ClaimInterval, jobService, logger)
	go func() {
		if err := consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
			logger.Error().Err(err).Msg("submit consumer stopped")
		}
	}()

	scheduler := jobs.NewScheduler(jobService, cfg.Jobs.PollInterval, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, stopConsumer, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, stopConsumer context.CancelFunc, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	stopConsumer()
	scheduler.Stop()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
