package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/wolfman30/consult-slots/cmd/mainconfig"
	"github.com/wolfman30/consult-slots/internal/api/router"
	"github.com/wolfman30/consult-slots/internal/app/bootstrap"
	"github.com/wolfman30/consult-slots/internal/clock"
	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/internal/events"
	"github.com/wolfman30/consult-slots/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/consult-slots/internal/http/middleware"
	"github.com/wolfman30/consult-slots/internal/livefeed"
	"github.com/wolfman30/consult-slots/internal/notify"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/internal/scheduler"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting consult-slots API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := bootstrap.RequireDatabase(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	var awsCfg *aws.Config
	if cfg.UsesAWS() {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	metricsHandler, reservationMetrics := setupMetrics()
	clk := clock.Real{}
	loc := bootstrap.LoadLocation(cfg.SchedulerTimezone, logger)

	hub := livefeed.NewHub(cfg.CORSAllowedOrigins, logger)
	emailSender, emailProvider := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	meetingProvider, meetingProviderName := bootstrap.BuildMeetingProvider(ctx, cfg, logger)
	logger.Info("integrations selected", "email", emailProvider, "meetings", meetingProviderName)

	svc := reservations.NewService(pool, bootstrap.BuildServiceOptions(cfg, bootstrap.ServiceDeps{
		Logger:    logger,
		Clock:     clk,
		Location:  loc,
		Metrics:   reservationMetrics,
		Meetings:  meetingProvider,
		Notifier:  notify.NewService(emailSender, cfg.AdminEmail, logger),
		Limiter:   bootstrap.BuildHoldLimiter(redisClient, cfg, logger),
		Publisher: hub,
	})...)

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	var webhook *handlers.PaymentWebhookHandler
	if cfg.PaymentWebhookSecret != "" {
		webhook = handlers.NewPaymentWebhookHandler(cfg.PaymentWebhookSecret, cfg.PaymentKeySecret, svc, events.NewProcessedStore(pool), logger)
	}
	holdLimiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, clk)

	outboxHandler, sinks := bootstrap.BuildOutboxHandler(cfg, awsCfg, pool, clk, logger)
	logger.Info("outbox sinks configured", "sinks", sinks)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), outboxHandler, logger)

	schedOpts := []scheduler.Option{scheduler.WithTick(cfg.SchedulerTick), scheduler.WithMetrics(reservationMetrics)}
	if redisClient != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(scheduler.NewRedisLocker(redisClient, "")))
	}
	sched := scheduler.New(clk, logger, schedOpts...)
	if err := bootstrap.RegisterJobs(sched, svc, deliverer, holdLimiter, jobConfig(cfg, loc), logger); err != nil {
		logger.Error("failed to register jobs", "error", err)
		os.Exit(1)
	}
	go sched.Start(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		Reservations:       reservations.NewHandler(svc, logger),
		AdminBookings:      handlers.NewAdminBookingsHandler(sqlDB, logger),
		PaymentWebhook:     webhook,
		LiveFeed:           http.HandlerFunc(hub.ServeWS),
		HoldLimiter:        holdLimiter,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Ready:              readiness(pool, redisClient),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
