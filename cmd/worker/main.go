package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/adirachman/wa-broadcast-api/internal/config"
	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	"github.com/adirachman/wa-broadcast-api/internal/ratelimit"
	"github.com/adirachman/wa-broadcast-api/internal/repository/postgres"
	internalworker "github.com/adirachman/wa-broadcast-api/internal/worker"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/messaging/redis"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
	"github.com/adirachman/wa-broadcast-api/pkg/worker"
)

func setupHealthCheck(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("wa_broadcast", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	scheduleRepo := postgres.NewScheduleRepository(baseRepo)
	batchRepo := postgres.NewBatchRepository(baseRepo)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	campaignRepo := postgres.NewCampaignRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		APIKey:         cfg.Gateway.APIKey,
		TimeoutSeconds: cfg.Gateway.TimeoutSeconds,
	}, appLogger)

	limiter := ratelimit.NewLimiter(queueRepo, ratelimit.Ceilings{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		PerDay:    cfg.RateLimit.PerDay,
	})

	queueWorker := internalworker.NewQueueWorker(
		queueRepo, batchRepo, campaignRepo, scheduleRepo, outboxRepo,
		limiter, gatewayClient,
		internalworker.QueueWorkerConfig{
			PollInterval:      cfg.Broadcast.PollInterval,
			PageSize:          cfg.Broadcast.PageSize,
			InterMessageDelay: cfg.Broadcast.InterMessageDelay,
			StuckThreshold:    cfg.Broadcast.StuckThreshold,
		},
		appLogger, appMetrics,
	)

	retryCoordinator := internalworker.NewRetryCoordinator(
		queueRepo,
		internalworker.RetryCoordinatorConfig{
			ScanInterval: cfg.Broadcast.RetryScanInterval,
			PageSize:     cfg.Broadcast.RetryPageSize,
		},
		appLogger, appMetrics,
	)

	historyCleanup := internalworker.NewHistoryCleanupWorker(
		campaignRepo, queueRepo, outboxRepo,
		internalworker.HistoryCleanupConfig{
			Interval:      cfg.History.CleanupInterval,
			KeepCampaigns: cfg.History.KeepCampaigns,
			RetentionDays: cfg.History.RetentionDays,
		},
		appLogger,
	)

	outboxProcessor := worker.NewOutboxProcessor(
		outboxRepo, broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		appLogger, appMetrics,
	)

	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down workers")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){
		queueWorker.Start,
		retryCoordinator.Start,
		historyCleanup.Start,
		outboxProcessor.Start,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(start)
	}

	wg.Wait()
	appLogger.Info("all workers stopped")
}
