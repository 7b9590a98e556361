package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Port      string `yaml:"port"`
	AdminPort string `yaml:"admin_port"`

	DefaultProcessorURL  string  `yaml:"default_processor_url"`
	FallbackProcessorURL string  `yaml:"fallback_processor_url"`
	DefaultFeeRate       float64 `yaml:"default_fee_rate"`
	FallbackFeeRate      float64 `yaml:"fallback_fee_rate"`

	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	LedgerBackend string `yaml:"ledger_backend"`
	QueueBackend  string `yaml:"queue_backend"`

	NumWorkers int `yaml:"num_workers"`

	HealthWindow   time.Duration `yaml:"health_rate_limit_window"`
	HealthTimeout  time.Duration `yaml:"health_check_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	BreakerThreshold uint32        `yaml:"breaker_failure_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	VisibilityTimeout time.Duration `yaml:"queue_visibility_timeout"`
	PollInterval      time.Duration `yaml:"queue_poll_interval"`

	GambleWhenUnhealthy bool `yaml:"selector_gamble_when_unhealthy"`

	LogLevel string `yaml:"log_level"`

	// envErrs holds environment values that could not be applied.
	envErrs []error
}

const (
	// A delivery dials at most every processor once, then writes the ledger.
	dialsPerDelivery = 2
	leaseHeadroom    = time.Second
)

func Default() *Config {
	return &Config{
		Port:                 "9999",
		AdminPort:            "9995",
		DefaultProcessorURL:  "http://payment-processor-default:8080",
		FallbackProcessorURL: "http://payment-processor-fallback:8080",
		DefaultFeeRate:       0.05,
		FallbackFeeRate:      0.15,
		RedisURL:             "redis://localhost:6379/0",
		LedgerBackend:        BackendRedis,
		QueueBackend:         BackendRedis,
		NumWorkers:           10,
		HealthWindow:         5 * time.Second,
		HealthTimeout:        2 * time.Second,
		RequestTimeout:       2 * time.Second,
		BreakerThreshold:     5,
		BreakerCooldown:      5 * time.Second,
		MaxRetries:           16,
		RetryBaseDelay:       100 * time.Millisecond,
		RetryMaxDelay:        10 * time.Second,
		VisibilityTimeout:    30 * time.Second,
		PollInterval:         20 * time.Millisecond,
		GambleWhenUnhealthy:  true,
		LogLevel:             "info",
	}
}

// Load reads an optional .env file, then an optional YAML file named by
// CONFIG_PATH, then the process environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.AdminPort = getEnv("WORKER_ADMIN_PORT", c.AdminPort)
	c.DefaultProcessorURL = getEnv("PAYMENTS_PROCESSOR_URL_DEFAULT", c.DefaultProcessorURL)
	c.FallbackProcessorURL = getEnv("PAYMENTS_PROCESSOR_URL_FALLBACK", c.FallbackProcessorURL)
	c.DefaultFeeRate = getEnvFloat("PAYMENT_PROCESSOR_TAX_DEFAULT", c.DefaultFeeRate)
	c.FallbackFeeRate = getEnvFloat("PAYMENT_PROCESSOR_TAX_FALLBACK", c.FallbackFeeRate)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LedgerBackend = getEnv("LEDGER_BACKEND", c.LedgerBackend)
	c.QueueBackend = getEnv("QUEUE_BACKEND", c.QueueBackend)
	c.NumWorkers = getEnvInt("NUM_WORKERS", c.NumWorkers)
	c.HealthWindow = getEnvDuration("HEALTH_RATE_LIMIT_WINDOW", c.HealthWindow)
	c.HealthTimeout = getEnvDuration("HEALTH_CHECK_TIMEOUT", c.HealthTimeout)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	if n := getEnvInt("BREAKER_FAILURE_THRESHOLD", int(c.BreakerThreshold)); n < 0 || int64(n) > math.MaxUint32 {
		c.envErrs = append(c.envErrs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD out of range, got %d", n))
	} else {
		c.BreakerThreshold = uint32(n)
	}
	c.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", c.BreakerCooldown)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = getEnvDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.VisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", c.VisibilityTimeout)
	c.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", c.PollInterval)
	c.GambleWhenUnhealthy = getEnvBool("SELECTOR_GAMBLE_WHEN_UNHEALTHY", c.GambleWhenUnhealthy)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) Validate() error {
	errs := append([]error(nil), c.envErrs...)

	if c.DefaultProcessorURL == "" {
		errs = append(errs, errors.New("PAYMENTS_PROCESSOR_URL_DEFAULT must be set"))
	}
	if c.FallbackProcessorURL == "" {
		errs = append(errs, errors.New("PAYMENTS_PROCESSOR_URL_FALLBACK must be set"))
	}
	if c.NumWorkers <= 0 {
		errs = append(errs, fmt.Errorf("NUM_WORKERS must be positive, got %d", c.NumWorkers))
	}

	positive := map[string]time.Duration{
		"HEALTH_RATE_LIMIT_WINDOW": c.HealthWindow,
		"HEALTH_CHECK_TIMEOUT":     c.HealthTimeout,
		"REQUEST_TIMEOUT":          c.RequestTimeout,
		"BREAKER_COOLDOWN":         c.BreakerCooldown,
		"RETRY_BASE_DELAY":         c.RetryBaseDelay,
		"RETRY_MAX_DELAY":          c.RetryMaxDelay,
		"QUEUE_VISIBILITY_TIMEOUT": c.VisibilityTimeout,
		"QUEUE_POLL_INTERVAL":      c.PollInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if c.BreakerThreshold == 0 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if minLease := dialsPerDelivery*c.RequestTimeout + leaseHeadroom; c.VisibilityTimeout <= minLease {
		errs = append(errs, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must exceed %s, got %s", minLease, c.VisibilityTimeout))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY must not be smaller than RETRY_BASE_DELAY"))
	}

	switch c.LedgerBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres ledger"))
		}
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	switch c.QueueBackend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	if (c.LedgerBackend == BackendRedis || c.QueueBackend == BackendRedis) && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL must be set for redis backends"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
