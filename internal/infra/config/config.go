package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultReminderInterval = time.Hour
	defaultSendDelay        = 100 * time.Millisecond
	defaultSendTimeout      = 10 * time.Second
	defaultCycleTimeout     = 15 * time.Minute
	defaultCycleLockTTL     = 30 * time.Minute
	defaultHTTPAddr         = ":8080"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string // Empty only in development; the in-memory store is used then
	AdminTelegramID int64
	LogLevel        string
	Environment     string

	ReminderInterval time.Duration // Wait between reminder cycles
	SendDelay        time.Duration // Pacing between consecutive sends
	SendTimeout      time.Duration // Upper bound for one message send
	CycleTimeout     time.Duration // Upper bound for a whole cycle

	HTTPAddr      string
	AdminAPIToken string // Admin HTTP routes are disabled when empty

	RedisURL     string // Enables the distributed cycle lock when set
	CycleLockTTL time.Duration
}

// IsDevelopment reports whether the app runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	if cfg.ReminderInterval, err = durationFromEnv("REMINDER_INTERVAL", defaultReminderInterval); err != nil {
		return nil, err
	}
	if cfg.SendDelay, err = durationFromEnv("SEND_DELAY", defaultSendDelay); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = durationFromEnv("SEND_TIMEOUT", defaultSendTimeout); err != nil {
		return nil, err
	}
	if cfg.CycleTimeout, err = durationFromEnv("CYCLE_TIMEOUT", defaultCycleTimeout); err != nil {
		return nil, err
	}
	if cfg.CycleLockTTL, err = durationFromEnv("CYCLE_LOCK_TTL", defaultCycleLockTTL); err != nil {
		return nil, err
	}
	if cfg.ReminderInterval <= 0 {
		return nil, fmt.Errorf("REMINDER_INTERVAL must be positive, got %s", cfg.ReminderInterval)
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	return cfg, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration %s", key, d)
	}
	return d, nil
}
