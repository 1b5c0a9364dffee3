package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName   string
	Environment   string
	LogLevel      string
	HTTPPort      string
	PostgresDSN   string
	DBAutoMigrate bool

	WorkerSecret   string
	JWTSecret      string
	JWTIssuer      string
	PIIKey         string
	RolePolicyJSON string

	IdempotencyTTL     time.Duration
	OutboxMaxAttempts  int
	JobMaxAttempts     int
	ClaimLease         time.Duration
	WorkerPollInterval time.Duration
	WorkerBatchSize    int

	CORSOrigins        []string
	RateLimitPerMinute int

	EnableOutboxRelay      bool
	EnableJobRunner        bool
	EnableIdempotencySweep bool
}

// Load reads the process environment, after merging an optional .env file
// (ENV_FILE, default ".env"). Variables already set in the environment win.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "ledgerflow"
	}
	environment := os.Getenv("APP_ENV")
	if environment == "" {
		environment = "development"
	}
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var origins []string
	for _, value := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			origins = append(origins, value)
		}
	}

	cfg := Config{
		ServiceName:    service,
		Environment:    environment,
		LogLevel:       strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		HTTPPort:       port,
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		WorkerSecret:   os.Getenv("WORKER_SECRET"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		PIIKey:         strings.TrimSpace(os.Getenv("PII_KEY")),
		RolePolicyJSON: os.Getenv("ROLE_POLICY_JSON"),
		CORSOrigins:    origins,
	}

	var err error
	if cfg.DBAutoMigrate, err = envBool("DB_AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("OUTBOX_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.JobMaxAttempts, err = envInt("JOB_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.ClaimLease, err = envDuration("CLAIM_LEASE", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPollInterval, err = envDuration("WORKER_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WorkerBatchSize, err = envInt("WORKER_BATCH_SIZE", 100); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return Config{}, err
	}
	if cfg.EnableOutboxRelay, err = envBool("ENABLE_OUTBOX_RELAY", true); err != nil {
		return Config{}, err
	}
	if cfg.EnableJobRunner, err = envBool("ENABLE_JOB_RUNNER", true); err != nil {
		return Config{}, err
	}
	if cfg.EnableIdempotencySweep, err = envBool("ENABLE_IDEMPOTENCY_SWEEP", true); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envBool(name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback, nil
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return fallback, fmt.Errorf("%s: invalid boolean %q", name, raw)
	}
}

// envInt accepts positive integers only.
func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback, fmt.Errorf("%s: invalid positive integer %q", name, raw)
	}
	return value, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback, fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	return value, nil
}
