package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

var velocityTracer = otel.Tracer("consult.internal.payments.velocity")

// VelocityChecker limits how often one customer can place holds.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxHoldsPerEmail int
	HoldWindow       time.Duration
	EnableHoldCheck  bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxHoldsPerEmail: 3,
		HoldWindow:       time.Hour,
		EnableHoldCheck:  true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CheckType    string
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a new velocity checker.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if config.HoldWindow <= 0 {
		config.HoldWindow = time.Hour
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

func holdKey(email string) string {
	return "velocity:hold:" + strings.ToLower(strings.TrimSpace(email))
}

// CheckHold counts a hold attempt for email and reports whether it is allowed.
// Redis failures fail open.
func (v *VelocityChecker) CheckHold(ctx context.Context, email string) (*VelocityResult, error) {
	ctx, span := velocityTracer.Start(ctx, "velocity.check_hold")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "hold"))

	if v == nil || v.redis == nil || !v.config.EnableHoldCheck {
		return &VelocityResult{Allowed: true, CheckType: "hold"}, nil
	}

	key := holdKey(email)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.HoldWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, CheckType: "hold", Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxHoldsPerEmail,
		CheckType:    "hold",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxHoldsPerEmail,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d hold attempts in %s", v.config.MaxHoldsPerEmail, v.config.HoldWindow)
		v.logger.Warn("hold velocity exceeded",
			"email", email,
			"count", count,
			"max", v.config.MaxHoldsPerEmail,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// first increment opens the window
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}

// ResetHoldVelocity clears the counter for an email (admin use).
func (v *VelocityChecker) ResetHoldVelocity(ctx context.Context, email string) error {
	return v.redis.Del(ctx, holdKey(email)).Err()
}

// HoldStats returns the current counter without incrementing it.
func (v *VelocityChecker) HoldStats(ctx context.Context, email string) (*VelocityResult, error) {
	key := holdKey(email)

	count, err := v.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return &VelocityResult{
			Allowed:    true,
			CheckType:  "hold",
			MaxAllowed: v.config.MaxHoldsPerEmail,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, _ := v.redis.TTL(ctx, key).Result()

	return &VelocityResult{
		Allowed:      count < v.config.MaxHoldsPerEmail,
		CheckType:    "hold",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxHoldsPerEmail,
		WindowExpiry: time.Now().Add(ttl),
	}, nil
}
