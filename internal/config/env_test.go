package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.HealthWindow != 5*time.Second {
		t.Errorf("expected 5s health window, got %s", cfg.HealthWindow)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("expected breaker threshold 5, got %d", cfg.BreakerThreshold)
	}
	if !cfg.GambleWhenUnhealthy {
		t.Error("expected gamble-when-unhealthy enabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PAYMENTS_PROCESSOR_URL_DEFAULT", "http://default:8080")
	t.Setenv("NUM_WORKERS", "3")
	t.Setenv("BREAKER_COOLDOWN", "750ms")
	t.Setenv("SELECTOR_GAMBLE_WHEN_UNHEALTHY", "false")
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("NUM_WORKERS_TYPO", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DefaultProcessorURL != "http://default:8080" {
		t.Errorf("unexpected default URL %q", cfg.DefaultProcessorURL)
	}
	if cfg.NumWorkers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.NumWorkers)
	}
	if cfg.BreakerCooldown != 750*time.Millisecond {
		t.Errorf("expected 750ms cooldown, got %s", cfg.BreakerCooldown)
	}
	if cfg.GambleWhenUnhealthy {
		t.Error("expected gamble disabled")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	content := `
fallback_processor_url: http://from-file:8080
max_retries: 4
retry_base_delay: 250ms
ledger_backend: memory
queue_backend: memory
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MAX_RETRIES", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FallbackProcessorURL != "http://from-file:8080" {
		t.Errorf("expected fallback URL from file, got %q", cfg.FallbackProcessorURL)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms base delay from file, got %s", cfg.RetryBaseDelay)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("expected env to override max retries, got %d", cfg.MaxRetries)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.HealthWindow = 0
	cfg.DefaultProcessorURL = ""
	cfg.LedgerBackend = "cassandra"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{"HEALTH_RATE_LIMIT_WINDOW", "PAYMENTS_PROCESSOR_URL_DEFAULT", "cassandra"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.LedgerBackend = BackendPostgres
	cfg.DatabaseURL = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres ledger without DATABASE_URL")
	}
}

func TestLoadRejectsOutOfRangeThreshold(t *testing.T) {
	for _, value := range []string{"-1", "4294967296"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			t.Setenv("LEDGER_BACKEND", "memory")
			t.Setenv("QUEUE_BACKEND", "memory")
			t.Setenv("BREAKER_FAILURE_THRESHOLD", value)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), "BREAKER_FAILURE_THRESHOLD") {
				t.Fatalf("expected a threshold error, got %v", err)
			}
		})
	}
}

func TestValidateVisibilityCoversDelivery(t *testing.T) {
	cfg := Default()
	cfg.RequestTimeout = 10 * time.Second
	cfg.VisibilityTimeout = 15 * time.Second

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUEUE_VISIBILITY_TIMEOUT") {
		t.Fatalf("expected a visibility error, got %v", err)
	}

	cfg.VisibilityTimeout = 22 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Errorf("22s should cover two 10s calls, got %v", err)
	}
}
