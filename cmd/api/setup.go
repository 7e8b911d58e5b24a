package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/consult-slots/internal/app/bootstrap"
	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/internal/observability/metrics"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

func setupMetrics() (http.Handler, *metrics.ReservationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewReservationMetrics(reg)
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		logger.Error("invalid DATABASE_URL", "error", err)
		return nil
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readiness checks postgres and, when configured, redis.
func readiness(db pinger, redisClient *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("postgres: %w", err))
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}

func jobConfig(cfg *appconfig.Config, loc *time.Location) bootstrap.JobConfig {
	return bootstrap.JobConfig{
		HoldSweepInterval: cfg.HoldSweepInterval,
		ConfigSweepHour:   cfg.ConfigSweepHour,
		ConfigSweepMinute: cfg.ConfigSweepMinute,
		Location:          loc,
		UpcomingInterval:  cfg.UpcomingCheckInterval,
		OutboxInterval:    cfg.OutboxInterval,
	}
}
