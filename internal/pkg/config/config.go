package config

import (
	"fmt"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/env"
)

// Defaults
const (
	DefaultClinicID           = "clinic_1"
	DefaultClinicTZ           = "UTC"
	DefaultParkingResourceKey = "PARKING"
	DefaultWebhookSecret      = "dev_secret"
	DefaultPort               = "3000"
	DefaultStepTimeout        = 5 * time.Second
	DefaultPopWait            = 5 * time.Second
	DefaultIdempotencyTTL     = 60 * time.Second
	DefaultWebhookTimeout     = 10 * time.Second
)

// RuntimeConfig is everything the binaries read from the environment
type RuntimeConfig struct {
	ClinicID           string
	ClinicTZ           string
	ParkingResourceKey string
	ClinicConfigPath   string

	LegacyAuthMethod     string
	LegacyCookieBlobPath string
	LegacyUsername       string
	LegacyPassword       string
	Headless             bool

	CSPHost   string
	CSPAPIKey string

	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	StepTimeout    time.Duration
	PopWait        time.Duration
	IdempotencyTTL time.Duration

	AutoSync           bool
	SyncHorizonDays    int
	RateLimitOpsPerMin int
	MaxConcurrency     int

	Host      string
	Port      string
	JWTSecret string
}

// Load reads RuntimeConfig from the environment (call env.SetupEnvFile first)
func Load() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		ClinicID:           env.GetEnv("CLINIC_ID", DefaultClinicID),
		ClinicTZ:           env.GetEnv("CLINIC_TZ", DefaultClinicTZ),
		ParkingResourceKey: env.GetEnv("PARKING_RESOURCE_KEY", DefaultParkingResourceKey),
		ClinicConfigPath:   env.GetEnv("CLINIC_CONFIG_PATH", ""),

		LegacyAuthMethod:     env.GetEnv("JANE_AUTH_METHOD", "cookie"),
		LegacyCookieBlobPath: env.GetEnv("JANE_COOKIE_BLOB_PATH", ""),
		LegacyUsername:       env.GetEnv("JANE_USERNAME", ""),
		LegacyPassword:       env.GetEnv("JANE_PASSWORD", ""),
		Headless:             env.GetEnvBool("PLAYWRIGHT_HEADLESS", true),

		CSPHost:   env.GetEnv("CSP_HOST", ""),
		CSPAPIKey: env.GetEnv("CSP_API_KEY", env.GetEnv("CSP_KEY", "")),

		StoreBackend: env.GetEnv("STORE_BACKEND", ""),
		DatabaseURL:  env.GetEnv("DATABASE_URL", ""),
		RedisURL:     env.GetEnv("REDIS_URL", ""),

		WebhookURL:     env.GetEnv("WEBHOOK_URL", ""),
		WebhookSecret:  env.GetEnv("WEBHOOK_SECRET", DefaultWebhookSecret),
		WebhookTimeout: env.GetEnvDuration("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),

		StepTimeout:    env.GetEnvDuration("STEP_TIMEOUT", DefaultStepTimeout),
		PopWait:        env.GetEnvDuration("QUEUE_POP_WAIT", DefaultPopWait),
		IdempotencyTTL: env.GetEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),

		AutoSync:           env.GetEnvBool("AUTO_SYNC", false),
		SyncHorizonDays:    env.GetEnvInt("SYNC_HORIZON_DAYS", 14),
		RateLimitOpsPerMin: env.GetEnvInt("PER_CLINIC_RATELIMIT_OPS_PER_MIN", 6),
		MaxConcurrency:     env.GetEnvInt("MAX_CONCURRENCY", 2),

		Host:      env.GetEnv("APP_HOST", "0.0.0.0"),
		Port:      env.GetEnv("PORT", DefaultPort),
		JWTSecret: env.GetEnv("JWT_SECRET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the worker cannot run with
func (c *RuntimeConfig) Validate() error {
	if _, err := time.LoadLocation(c.ClinicTZ); err != nil {
		return fmt.Errorf("CLINIC_TZ %q: %w", c.ClinicTZ, err)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT must be positive, got %s", c.StepTimeout)
	}
	if c.PopWait <= 0 {
		return fmt.Errorf("QUEUE_POP_WAIT must be positive, got %s", c.PopWait)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	switch c.StoreBackend {
	case "", "memory", "relational", "cache":
	default:
		return fmt.Errorf("STORE_BACKEND %q is not one of memory, relational, cache", c.StoreBackend)
	}
	return nil
}

// CSPEnabled reports whether a target-system client can be built
func (c *RuntimeConfig) CSPEnabled() bool {
	return c.CSPHost != "" && c.CSPAPIKey != ""
}
