package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "")
	t.Setenv("ENABLE_JOB_RUNNER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServiceName != "ledgerflow" || cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.OutboxMaxAttempts != 10 {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if !cfg.EnableJobRunner {
		t.Fatalf("expected job runner enabled by default")
	}
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LEDGER_TEST_FROM_FILE=file\nWORKER_BATCH_SIZE=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("WORKER_BATCH_SIZE", "25")
	t.Cleanup(func() { _ = os.Unsetenv("LEDGER_TEST_FROM_FILE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WorkerBatchSize != 25 {
		t.Fatalf("expected environment to win, got %d", cfg.WorkerBatchSize)
	}
	if os.Getenv("LEDGER_TEST_FROM_FILE") != "file" {
		t.Fatalf("expected env file to be merged")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"DB_AUTO_MIGRATE":      "maybe",
		"OUTBOX_MAX_ATTEMPTS":  "-1",
		"CLAIM_LEASE":          "soon",
		"WORKER_POLL_INTERVAL": "0s",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
			t.Setenv(name, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to fail", name, value)
			}
		})
	}
}
