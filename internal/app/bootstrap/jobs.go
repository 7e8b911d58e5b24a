package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/consult-slots/internal/events"
	httpmiddleware "github.com/wolfman30/consult-slots/internal/http/middleware"
	"github.com/wolfman30/consult-slots/internal/scheduler"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// Job names as they appear in logs, metrics and lock keys.
const (
	JobHoldSweep      = "hold-sweep"
	JobConfigExpiry   = "configuration-expiry"
	JobUpcomingDigest = "upcoming-digest"
	JobOutboxDrain    = "outbox-drain"
	JobRateLimitEvict = "ratelimit-evict"
)

// Sweeper is the reservation maintenance surface the jobs call.
type Sweeper interface {
	ReconcileExpiredHolds(ctx context.Context) (int, error)
	ExpireConfigurations(ctx context.Context) (int, error)
	NotifyUpcoming(ctx context.Context, window time.Duration) (int, error)
}

// JobConfig controls which jobs are registered and how often they run.
type JobConfig struct {
	HoldSweepInterval time.Duration
	ConfigSweepHour   int
	ConfigSweepMinute int
	Location          *time.Location
	UpcomingInterval  time.Duration
	OutboxInterval    time.Duration
}

// RegisterJobs adds the maintenance jobs to s. deliverer and limiter are
// optional; their jobs are skipped when nil.
func RegisterJobs(s *scheduler.Scheduler, sweeper Sweeper, deliverer *events.Deliverer, limiter *httpmiddleware.RateLimiter, cfg JobConfig, logger *logging.Logger) error {
	if sweeper == nil {
		return errors.New("bootstrap: sweeper required")
	}
	if cfg.ConfigSweepHour < 0 || cfg.ConfigSweepHour > 23 {
		return fmt.Errorf("bootstrap: configuration sweep hour %d out of range 0-23", cfg.ConfigSweepHour)
	}
	if cfg.ConfigSweepMinute < 0 || cfg.ConfigSweepMinute > 59 {
		return fmt.Errorf("bootstrap: configuration sweep minute %d out of range 0-59", cfg.ConfigSweepMinute)
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("jobs")
	if cfg.HoldSweepInterval <= 0 {
		cfg.HoldSweepInterval = 5 * time.Minute
	}
	if cfg.UpcomingInterval <= 0 {
		cfg.UpcomingInterval = time.Hour
	}
	if cfg.OutboxInterval <= 0 {
		cfg.OutboxInterval = 2 * time.Second
	}

	jobs := []scheduler.Job{
		{
			Name:     JobHoldSweep,
			Schedule: scheduler.Every(cfg.HoldSweepInterval),
			Run: func(ctx context.Context) error {
				n, err := sweeper.ReconcileExpiredHolds(ctx)
				if n > 0 {
					logger.Info("lapsed holds reclaimed", "count", n)
				}
				return err
			},
		},
		{
			Name:     JobConfigExpiry,
			Schedule: scheduler.DailyAt(cfg.ConfigSweepHour, cfg.ConfigSweepMinute, cfg.Location),
			Run: func(ctx context.Context) error {
				n, err := sweeper.ExpireConfigurations(ctx)
				if n > 0 {
					logger.Info("past configurations expired", "count", n)
				}
				return err
			},
		},
		{
			Name:     JobUpcomingDigest,
			Schedule: scheduler.Every(cfg.UpcomingInterval),
			Run: func(ctx context.Context) error {
				n, err := sweeper.NotifyUpcoming(ctx, cfg.UpcomingInterval)
				if n > 0 {
					logger.Info("upcoming sessions digest sent", "sessions", n)
				}
				return err
			},
		},
	}
	if deliverer != nil {
		jobs = append(jobs, scheduler.Job{
			Name:     JobOutboxDrain,
			Schedule: scheduler.Every(cfg.OutboxInterval),
			LockTTL:  time.Minute,
			Run: func(ctx context.Context) error {
				deliverer.Drain(ctx)
				return nil
			},
		})
	}
	if limiter != nil {
		jobs = append(jobs, scheduler.Job{
			Name:     JobRateLimitEvict,
			Schedule: scheduler.Every(5 * time.Minute),
			Local:    true,
			Run: func(context.Context) error {
				limiter.Evict(10 * time.Minute)
				return nil
			},
		})
	}

	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}
