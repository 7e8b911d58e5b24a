package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/internal/meetings"
	"github.com/wolfman30/consult-slots/internal/notify"
	"github.com/wolfman30/consult-slots/internal/payments"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildHoldLimiter returns the per-email hold velocity check, or nil without redis.
func BuildHoldLimiter(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) reservations.HoldLimiter {
	if redisClient == nil || cfg == nil {
		return nil
	}
	vc := payments.DefaultVelocityConfig()
	if cfg.HoldVelocityMax > 0 {
		vc.MaxHoldsPerEmail = cfg.HoldVelocityMax
	}
	if cfg.HoldVelocityWindow > 0 {
		vc.HoldWindow = cfg.HoldVelocityWindow
	}
	return payments.NewVelocityChecker(redisClient, vc, logger)
}

// BuildEmailSender picks the email transport named by EMAIL_PROVIDER. A
// misconfigured provider falls back to the stub sender and reports why.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		logger.Warn("sendgrid selected without SENDGRID_API_KEY; using stub email sender")
	case "ses":
		if awsCfg != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail:        cfg.SESFromEmail,
				FromName:         cfg.SendGridFromName,
				ReplyTo:          cfg.AdminEmail,
				ConfigurationSet: cfg.SESConfigSet,
			}, logger), "ses"
		}
		logger.Warn("ses selected without AWS config or SES_FROM_EMAIL; using stub email sender")
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildMeetingProvider returns the Google Calendar provider when credentials
// are configured and the stub provider otherwise.
func BuildMeetingProvider(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (reservations.MeetingProvider, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.GoogleCredentialsFile) == "" {
		return meetings.StubProvider{}, "stub"
	}
	provider, err := meetings.NewGoogleCalendarProvider(ctx, cfg.GoogleCredentialsFile, cfg.GoogleCalendarID, cfg.MeetingTimezone)
	if err != nil {
		logger.Warn("google calendar unavailable; using stub meeting links", "error", err)
		return meetings.StubProvider{}, "stub"
	}
	return provider, "google"
}

// LoadLocation resolves the scheduler timezone, defaulting to UTC on error.
func LoadLocation(name string, logger *logging.Logger) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		if logger != nil {
			logger.Warn("unknown timezone; using UTC", "timezone", name, "error", err)
		}
		return time.UTC
	}
	return loc
}

// BuildServiceOptions assembles the reservation service options shared by
// the API server and the sweeper.
func BuildServiceOptions(cfg *appconfig.Config, deps ServiceDeps) []reservations.Option {
	opts := []reservations.Option{
		reservations.WithLogger(deps.Logger),
		reservations.WithHoldTTL(cfg.HoldTTL),
		reservations.WithExternalCallTimeout(cfg.ExternalCallTimeout),
		reservations.WithLocation(deps.Location),
		reservations.WithBookingCodePrefix(cfg.BookingCodePrefix),
		reservations.WithCurrency(cfg.DefaultCurrency),
		reservations.WithAdminEmail(cfg.AdminEmail),
		reservations.WithProofVerifier(payments.NewProofVerifier(cfg.PaymentKeySecret, cfg.AllowUnverifiedPayments)),
	}
	if deps.Clock != nil {
		opts = append(opts, reservations.WithClock(deps.Clock))
	}
	if deps.Metrics != nil {
		opts = append(opts, reservations.WithMetrics(deps.Metrics))
	}
	if deps.Meetings != nil {
		opts = append(opts, reservations.WithMeetingProvider(deps.Meetings))
	}
	if deps.Notifier != nil {
		opts = append(opts, reservations.WithNotifier(deps.Notifier))
	}
	if deps.Limiter != nil {
		opts = append(opts, reservations.WithHoldLimiter(deps.Limiter))
	}
	if deps.Publisher != nil {
		opts = append(opts, reservations.WithPublisher(deps.Publisher))
	}
	return opts
}

// RequireDatabase fails fast when DATABASE_URL is missing.
func RequireDatabase(cfg *appconfig.Config) error {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	return nil
}
