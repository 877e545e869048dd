package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const minJWTSecretLength = 32

// Config holds application configuration
type Config struct {
	Port     string
	DBDriver string
	DBConn   string
	LogLevel string

	JWTSecret   string
	TokenTTL    time.Duration
	OperatorKey string

	StorageTimeout time.Duration
	RequestTimeout time.Duration
	TxMaxRetries   int

	AccrualSchedule string
	SweepSchedule   string
	AccrualWorkers  int

	NotifyEnabled bool
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
}

// NewConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBDriver:        getEnv("DB_DRIVER", "postgres"),
		DBConn:          getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		OperatorKey:     getEnv("OPERATOR_KEY", ""),
		AccrualSchedule: getEnv("ACCRUAL_SCHEDULE", "10 0 * * *"),
		SweepSchedule:   getEnv("SWEEP_SCHEDULE", "20 0 * * *"),
		SMTPHost:        getEnv("SMTP_HOST", "localhost"),
		SMTPPort:        getEnv("SMTP_PORT", "25"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", "no-reply@bank.local"),
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StorageTimeout, err = getDuration("STORAGE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.TxMaxRetries, err = getInt("TX_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.AccrualWorkers, err = getInt("ACCRUAL_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.NotifyEnabled, err = strconv.ParseBool(getEnv("NOTIFY_ENABLED", "false")); err != nil {
		return nil, fmt.Errorf("NOTIFY_ENABLED: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBConn == "" {
		return fmt.Errorf("DB_CONN is required")
	}
	switch c.DBDriver {
	case "postgres", "pgx", "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres, pgx or memory, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	// Short secrets are tolerated only for local in-memory runs.
	if c.DBDriver != "memory" && len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive")
	}
	if c.RequestTimeout < c.StorageTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT must not be shorter than STORAGE_TIMEOUT")
	}
	if c.TxMaxRetries < 1 {
		return fmt.Errorf("TX_MAX_RETRIES must be at least 1")
	}
	if c.AccrualWorkers < 1 {
		return fmt.Errorf("ACCRUAL_WORKERS must be at least 1")
	}
	if c.NotifyEnabled && c.SenderEmail == "" {
		return fmt.Errorf("SENDER_EMAIL is required when NOTIFY_ENABLED is set")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
