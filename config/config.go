package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Port        string
	Environment string
	AppBaseURL  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL string
	CacheTTL time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	// SQS queue fed by an EventBridge rule on the Stripe partner event bus
	StripeEventsQueueURL string

	JWTSecret string

	KafkaBrokers           []string
	KafkaOrderTopic        string
	OrderEventsSNSTopicARN string

	DownloadsBucket string
	DownloadURLTTL  time.Duration
	DownloadKeyTTL  time.Duration

	EmailProvider string
	EmailFrom     string
	EmailAPIURL   string
	EmailAPIKey   string
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPass      string

	BonusCouponPercent   float64
	BonusCouponValidity  time.Duration
	NotifyOnCancelRefund bool

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	RequestTimeout     time.Duration

	CloudWatchLogsEnabled bool
}

// LoadConfig reads configuration from environment variables with optional
// Secrets Manager override.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		AppBaseURL:  strings.TrimSuffix(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		RedisURL: os.Getenv("REDIS_URL"),
		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeEventsQueueURL: os.Getenv("STRIPE_EVENTS_QUEUE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:        getEnv("KAFKA_ORDER_TOPIC", "order-events"),
		OrderEventsSNSTopicARN: os.Getenv("SNS_ORDER_EVENTS_TOPIC_ARN"),

		DownloadsBucket: getEnv("DOWNLOADS_BUCKET", "logbloga-downloads"),
		DownloadURLTTL:  getEnvDuration("DOWNLOAD_URL_TTL", 5*time.Minute),
		DownloadKeyTTL:  getEnvDuration("DOWNLOAD_KEY_TTL", 7*24*time.Hour),

		EmailProvider: getEnv("EMAIL_PROVIDER", "smtp"),
		EmailFrom:     getEnv("EMAIL_FROM", "LogBloga <orders@logbloga.com>"),
		EmailAPIURL:   getEnv("EMAIL_API_URL", "https://api.resend.com/emails"),
		EmailAPIKey:   os.Getenv("EMAIL_API_KEY"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPass:      os.Getenv("SMTP_PASS"),

		BonusCouponPercent:   getEnvFloat("BONUS_COUPON_PERCENT", 10),
		BonusCouponValidity:  getEnvDuration("BONUS_COUPON_VALIDITY", 30*24*time.Hour),
		NotifyOnCancelRefund: getEnvBool("NOTIFY_ON_CANCEL_REFUND", false),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		CloudWatchLogsEnabled: getEnvBool("CLOUDWATCH_LOGS_ENABLED", false),
	}

	// Override secrets from Secrets Manager when running on AWS
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if err := cfg.applySecrets(context.Background()); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applySecrets(ctx context.Context) error {
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config for secrets: %w", err)
	}
	sm := aws_pkg.NewSecretsClient(awsCfg)

	if m, err := sm.GetSecretJSON(ctx, getEnv("DB_SECRET_NAME", "logbloga/DB_CREDENTIALS")); err == nil {
		overrideIfSet(&c.PostgresUser, m["POSTGRES_USER"])
		overrideIfSet(&c.PostgresPassword, m["POSTGRES_PASSWORD"])
		overrideIfSet(&c.PostgresDB, m["POSTGRES_DB"])
		overrideIfSet(&c.PostgresHost, m["POSTGRES_HOST"])
		overrideIfSet(&c.PostgresPort, m["POSTGRES_PORT"])
	}

	if v, err := sm.GetSecret(ctx, getEnv("STRIPE_SECRET_NAME", "logbloga/STRIPE_SECRET_KEY")); err == nil {
		overrideIfSet(&c.StripeSecretKey, v)
	}
	if v, err := sm.GetSecret(ctx, getEnv("STRIPE_WEBHOOK_SECRET_NAME", "logbloga/STRIPE_WEBHOOK_SECRET")); err == nil {
		overrideIfSet(&c.StripeWebhookSecret, v)
	}
	if v, err := sm.GetSecret(ctx, getEnv("JWT_SECRET_NAME", "logbloga/JWT_SECRET")); err == nil {
		overrideIfSet(&c.JWTSecret, v)
	}
	return nil
}

func (c *Config) validate() error {
	var missing []string
	required := map[string]string{
		"POSTGRES_USER":         c.PostgresUser,
		"POSTGRES_PASSWORD":     c.PostgresPassword,
		"POSTGRES_DB":           c.PostgresDB,
		"POSTGRES_HOST":         c.PostgresHost,
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
		"JWT_SECRET":            c.JWTSecret,
	}
	for key, val := range required {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.EmailProvider != "smtp" && c.EmailProvider != "api" {
		return fmt.Errorf("EMAIL_PROVIDER must be smtp or api, got %q", c.EmailProvider)
	}
	return nil
}

// PostgresDSN builds the lib/pq style DSN consumed by the gorm postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func overrideIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
