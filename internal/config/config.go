package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Reservation lifecycle
	HoldTTL               time.Duration
	HoldSweepInterval     time.Duration
	ConfigSweepHour       int
	ConfigSweepMinute     int
	UpcomingCheckInterval time.Duration
	SchedulerTimezone     string
	SchedulerTick         time.Duration
	ExternalCallTimeout   time.Duration
	DefaultCurrency       string
	BookingCodePrefix     string

	// Payment proof verification
	PaymentKeySecret        string
	PaymentWebhookSecret    string
	AllowUnverifiedPayments bool

	// Redis (hold velocity + scheduler locks)
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	HoldVelocityMax    int
	HoldVelocityWindow time.Duration

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string
	AdminEmail        string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string
	ReceiptsBucket      string
	OutboxInterval      time.Duration

	// Google Calendar meeting links
	GoogleCredentialsFile string
	GoogleCalendarID      string
	MeetingTimezone       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		HoldTTL:               getEnvAsDuration("HOLD_TTL", 15*time.Minute),
		HoldSweepInterval:     getEnvAsDuration("HOLD_SWEEP_INTERVAL", 5*time.Minute),
		ConfigSweepHour:       getEnvAsInt("CONFIG_SWEEP_HOUR", 0),
		ConfigSweepMinute:     getEnvAsInt("CONFIG_SWEEP_MINUTE", 5),
		UpcomingCheckInterval: getEnvAsDuration("UPCOMING_CHECK_INTERVAL", time.Hour),
		SchedulerTimezone:     getEnv("SCHEDULER_TIMEZONE", "Asia/Kolkata"),
		SchedulerTick:         getEnvAsDuration("SCHEDULER_TICK", 30*time.Second),
		ExternalCallTimeout:   getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 10*time.Second),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "INR")),
		BookingCodePrefix:     getEnv("BOOKING_CODE_PREFIX", "SRU"),

		PaymentKeySecret:        getEnv("PAYMENT_KEY_SECRET", ""),
		PaymentWebhookSecret:    getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		AllowUnverifiedPayments: getEnvAsBool("ALLOW_UNVERIFIED_PAYMENTS", false),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		HoldVelocityMax:    getEnvAsInt("HOLD_VELOCITY_MAX", 3),
		HoldVelocityWindow: getEnvAsDuration("HOLD_VELOCITY_WINDOW", time.Hour),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Consultations"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),
		AdminEmail:        getEnv("ADMIN_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),
		ReceiptsBucket:      getEnv("RECEIPTS_BUCKET", ""),
		OutboxInterval:      getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),

		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),
		MeetingTimezone:       getEnv("MEETING_TIMEZONE", "Asia/Kolkata"),
	}
}

// UsesAWS reports whether any AWS-backed integration is configured.
func (c *Config) UsesAWS() bool {
	return c.EmailProvider == "ses" || c.EventsQueueURL != "" || c.ReceiptsBucket != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
