package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ledgerflow/internal/platform/config"
	"ledgerflow/internal/platform/messaging"
	"ledgerflow/internal/platform/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"":      ":8080",
		"  ":    ":8080",
		"9090":  ":9090",
		":7070": ":7070",
	}
	for in, want := range cases {
		if got := normalizeAddr(in); got != want {
			t.Fatalf("normalizeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildSealer(t *testing.T) {
	logger := quietLogger()
	if _, err := buildSealer("", logger); err != nil {
		t.Fatalf("expected ephemeral key, got %v", err)
	}
	if _, err := buildSealer(strings.Repeat("ab", 32), logger); err != nil {
		t.Fatalf("expected valid hex key, got %v", err)
	}
	for _, raw := range []string{"not-hex", strings.Repeat("ab", 8)} {
		if _, err := buildSealer(raw, logger); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestBuildModuleRejectsInvalidRolePolicy(t *testing.T) {
	cfg := config.Config{ServiceName: "ledgerflow-test", RolePolicyJSON: "{"}
	logger := quietLogger()
	if _, _, err := buildModule(cfg, metrics.New(cfg.ServiceName), messaging.NewBus(logger), logger); err == nil {
		t.Fatalf("expected invalid ROLE_POLICY_JSON to fail")
	}
}

func TestWorkerRunOnceOnMemoryStore(t *testing.T) {
	cfg := config.Config{
		ServiceName:       "ledgerflow-test",
		IdempotencyTTL:    time.Hour,
		OutboxMaxAttempts: 3,
		JobMaxAttempts:    3,
		ClaimLease:        time.Minute,
		WorkerBatchSize:   10,
	}
	logger := quietLogger()
	bus := messaging.NewBus(logger)
	module, pg, err := buildModule(cfg, metrics.New(cfg.ServiceName), bus, logger)
	if err != nil {
		t.Fatalf("build module: %v", err)
	}
	if pg != nil {
		t.Fatalf("expected no postgres handle without a DSN")
	}
	if module.Store == nil {
		t.Fatalf("expected the in-memory store to be exposed")
	}

	app := &WorkerApp{
		bus:          bus,
		outboxRelay:  &module.Relay,
		jobRunner:    &module.Jobs,
		sweeper:      &module.Sweeper,
		pollInterval: time.Second,
		logger:       logger,
	}
	if err := app.runOnce(context.Background()); err != nil {
		t.Fatalf("run once on an empty store: %v", err)
	}
	if len(module.Store.ListOutbox("tenant-a")) != 0 {
		t.Fatalf("expected an empty outbox")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	logger := quietLogger()
	app := &WorkerApp{
		bus:          messaging.NewBus(logger),
		pollInterval: 10 * time.Millisecond,
		logger:       logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}
