package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/adirachman/wa-broadcast-api/internal/config"
	"github.com/adirachman/wa-broadcast-api/internal/gateway"
	campaignHandler "github.com/adirachman/wa-broadcast-api/internal/handler/campaign"
	contactHandler "github.com/adirachman/wa-broadcast-api/internal/handler/contact"
	healthHandler "github.com/adirachman/wa-broadcast-api/internal/handler/health"
	scheduleHandler "github.com/adirachman/wa-broadcast-api/internal/handler/schedule"
	templateHandler "github.com/adirachman/wa-broadcast-api/internal/handler/template"
	"github.com/adirachman/wa-broadcast-api/internal/repository/postgres"
	"github.com/adirachman/wa-broadcast-api/internal/router"
	"github.com/adirachman/wa-broadcast-api/internal/service/dispatch"
	"github.com/adirachman/wa-broadcast-api/internal/service/history"
	scheduleService "github.com/adirachman/wa-broadcast-api/internal/service/schedule"
	"github.com/adirachman/wa-broadcast-api/internal/service/scheduler"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
	"github.com/adirachman/wa-broadcast-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("wa_broadcast", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	baseRepo := postgres.NewBaseRepository(db)
	scheduleRepo := postgres.NewScheduleRepository(baseRepo)
	batchRepo := postgres.NewBatchRepository(baseRepo)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	campaignRepo := postgres.NewCampaignRepository(baseRepo)
	contactRepo := postgres.NewContactRepository(baseRepo)
	templateRepo := postgres.NewTemplateRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		APIKey:         cfg.Gateway.APIKey,
		TimeoutSeconds: cfg.Gateway.TimeoutSeconds,
	}, appLogger)

	dispatcher := dispatch.NewDispatcher(
		scheduleRepo, batchRepo, queueRepo, campaignRepo,
		contactRepo, templateRepo, outboxRepo,
		gatewayClient,
		dispatch.Config{
			MaxAttempts:         cfg.Broadcast.MaxAttempts,
			DefaultPriority:     cfg.Broadcast.DefaultPriority,
			SessionPrecheckSize: cfg.Broadcast.SessionPrecheckSize,
			ContactCacheTTL:     cfg.Broadcast.ContactCacheTTL,
		},
		appLogger, appMetrics,
	)

	scheduleSvc := scheduleService.NewService(scheduleRepo, templateRepo)
	historySvc := history.NewService(campaignRepo)
	triggerScheduler := scheduler.NewService(scheduleRepo, dispatcher, appLogger, appMetrics)

	r := router.NewRouter(
		scheduleHandler.NewHandler(scheduleSvc, triggerScheduler, outboxRepo, appLogger),
		campaignHandler.NewHandler(historySvc),
		templateHandler.NewHandler(templateRepo),
		contactHandler.NewHandler(contactRepo),
		healthHandler.NewHandler(db, queueRepo),
		router.RouterConfig{
			RateLimitEnabled: cfg.HTTP.Enabled,
			RateLimit:        rate.Limit(cfg.HTTP.RequestsPerSecond),
			RateBurst:        cfg.HTTP.Burst,
			MetricsPrefix:    "wa_broadcast_http",
		},
	)
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := triggerScheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start trigger scheduler")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	appLogger.Info("api server started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	cancel()
	triggerScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
