package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/consult-slots/cmd/mainconfig"
	"github.com/wolfman30/consult-slots/internal/app/bootstrap"
	"github.com/wolfman30/consult-slots/internal/clock"
	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/internal/events"
	"github.com/wolfman30/consult-slots/internal/notify"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/internal/scheduler"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// builder assembles the scheduler with every maintenance job registered.
// The returned func releases the connections it opened.
type builder func(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*scheduler.Scheduler, func(), error)

func buildScheduler(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*scheduler.Scheduler, func(), error) {
	if err := bootstrap.RequireDatabase(cfg); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	cleanup := []func(){pool.Close}
	release := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	var awsCfg *aws.Config
	if cfg.UsesAWS() {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
	}

	clk := clock.Real{}
	loc := bootstrap.LoadLocation(cfg.SchedulerTimezone, logger)
	emailSender, _ := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	meetingProvider, _ := bootstrap.BuildMeetingProvider(ctx, cfg, logger)

	svc := reservations.NewService(pool, bootstrap.BuildServiceOptions(cfg, bootstrap.ServiceDeps{
		Logger:   logger,
		Clock:    clk,
		Location: loc,
		Meetings: meetingProvider,
		Notifier: notify.NewService(emailSender, cfg.AdminEmail, logger),
	})...)

	outboxHandler, _ := bootstrap.BuildOutboxHandler(cfg, awsCfg, pool, clk, logger)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), outboxHandler, logger)

	opts := []scheduler.Option{scheduler.WithTick(cfg.SchedulerTick)}
	if redisClient != nil {
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(redisClient, "")))
	}
	s := scheduler.New(clk, logger, opts...)
	err = bootstrap.RegisterJobs(s, svc, deliverer, nil, bootstrap.JobConfig{
		HoldSweepInterval: cfg.HoldSweepInterval,
		ConfigSweepHour:   cfg.ConfigSweepHour,
		ConfigSweepMinute: cfg.ConfigSweepMinute,
		Location:          loc,
		UpcomingInterval:  cfg.UpcomingCheckInterval,
		OutboxInterval:    cfg.OutboxInterval,
	}, logger)
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}
