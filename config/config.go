package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Identity IdentityConfig
	Stripe   StripeConfig
	Billing  BillingConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/crewdesk?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds the signed session cookie settings.
type SessionConfig struct {
	Secret       string
	CookieName   string
	CookieSecure bool
	TTLHours     int
}

// TTL returns the session lifetime.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// IdentityConfig describes how sign-in ID tokens are verified.
type IdentityConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// StripeConfig for subscription billing.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
	// PriceIDs maps tier -> Stripe price id.
	PriceIDs map[string]string
}

// BillingConfig holds lifecycle knobs.
type BillingConfig struct {
	TrialDays          int
	GraceDays          int
	GateFailOpen       bool // when the gate cannot evaluate status, let the request through
	CrossDeviceMinutes int
}

// GracePeriod returns the past_due grace window.
func (c BillingConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

// TrialPeriod returns the trial length granted at workspace creation.
func (c BillingConfig) TrialPeriod() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// CrossDeviceWindow returns how far back the cross-device sign-in fallback looks.
func (c BillingConfig) CrossDeviceWindow() time.Duration {
	return time.Duration(c.CrossDeviceMinutes) * time.Minute
}

// AWSConfig holds AWS credentials and the billing archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string // empty disables archiving
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "crewdesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret:       getEnv("SESSION_SECRET", ""),
			CookieName:   getEnv("SESSION_COOKIE_NAME", "crewdesk_session"),
			CookieSecure: getEnvBool("SESSION_COOKIE_SECURE", true),
			TTLHours:     getEnvInt("SESSION_TTL_HOURS", 24*7),
		},
		Identity: IdentityConfig{
			Secret:   getEnv("IDENTITY_TOKEN_SECRET", ""),
			Issuer:   getEnv("IDENTITY_TOKEN_ISSUER", ""),
			Audience: getEnv("IDENTITY_TOKEN_AUDIENCE", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			FrontendURL:   strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			PriceIDs: nonEmpty(map[string]string{
				"starter":    getEnv("STRIPE_PRICE_STARTER", ""),
				"growth":     getEnv("STRIPE_PRICE_GROWTH", ""),
				"enterprise": getEnv("STRIPE_PRICE_ENTERPRISE", ""),
				"corporate":  getEnv("STRIPE_PRICE_CORPORATE", ""),
			}),
		},
		Billing: BillingConfig{
			TrialDays:          getEnvInt("TRIAL_DAYS", 14),
			GraceDays:          getEnvInt("PAST_DUE_GRACE_DAYS", 3),
			GateFailOpen:       getEnvBool("GATE_FAIL_OPEN", true),
			CrossDeviceMinutes: getEnvInt("CROSS_DEVICE_WINDOW_MINUTES", 60),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.Identity.Secret == "" {
		return fmt.Errorf("IDENTITY_TOKEN_SECRET is required")
	}
	if c.Billing.TrialDays <= 0 || c.Billing.GraceDays < 0 || c.Billing.CrossDeviceMinutes <= 0 {
		return fmt.Errorf("invalid billing configuration: trial=%d grace=%d cross_device=%d",
			c.Billing.TrialDays, c.Billing.GraceDays, c.Billing.CrossDeviceMinutes)
	}
	return nil
}

func nonEmpty(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
