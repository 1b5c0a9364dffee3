package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ledger "ledgerflow/contexts/finance-core/ledger-service"
	"ledgerflow/contexts/finance-core/ledger-service/adapters/events"
	"ledgerflow/contexts/finance-core/ledger-service/adapters/memory"
	"ledgerflow/contexts/finance-core/ledger-service/adapters/pii"
	postgresadapter "ledgerflow/contexts/finance-core/ledger-service/adapters/postgres"
	"ledgerflow/contexts/finance-core/ledger-service/application/workers"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	contractsv1 "ledgerflow/contracts/gen/events/v1"
	"ledgerflow/internal/platform/config"
	"ledgerflow/internal/platform/db"
	"ledgerflow/internal/platform/httpserver"
	"ledgerflow/internal/platform/logging"
	"ledgerflow/internal/platform/messaging"
	"ledgerflow/internal/platform/metrics"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	bus          *messaging.Bus
	outboxRelay  *workers.OutboxRelay
	jobRunner    *workers.JobRunner
	sweeper      *workers.IdempotencySweeper
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "api")
	m := metrics.New(cfg.ServiceName)

	module, pg, err := buildModule(cfg, m, messaging.NewBus(logger), logger)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(httpserver.Options{
		Addr:               normalizeAddr(cfg.HTTPPort),
		WorkerSecret:       cfg.WorkerSecret,
		JWTSecret:          cfg.JWTSecret,
		JWTIssuer:          cfg.JWTIssuer,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, module, m, logger)
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	bus := messaging.NewBus(logger)
	module, pg, err := buildModule(cfg, metrics.New(cfg.ServiceName), bus, logger)
	if err != nil {
		return nil, err
	}

	app := &WorkerApp{
		postgres:     pg,
		bus:          bus,
		pollInterval: cfg.WorkerPollInterval,
		logger:       logger,
	}
	if cfg.EnableOutboxRelay {
		app.outboxRelay = &module.Relay
	}
	if cfg.EnableJobRunner {
		app.jobRunner = &module.Jobs
	}
	if cfg.EnableIdempotencySweep {
		app.sweeper = &module.Sweeper
	}
	return app, nil
}

// buildModule wires the ledger module on postgres when a DSN is configured
// and on the in-memory store otherwise.
func buildModule(cfg config.Config, m *metrics.Metrics, bus *messaging.Bus, logger *slog.Logger) (ledger.Module, *db.Postgres, error) {
	policy := entities.DefaultRolePolicy()
	if strings.TrimSpace(cfg.RolePolicyJSON) != "" {
		parsed, err := entities.ParseRolePolicy([]byte(cfg.RolePolicyJSON))
		if err != nil {
			return ledger.Module{}, nil, fmt.Errorf("ROLE_POLICY_JSON: %w", err)
		}
		policy = parsed
	}

	sealer, err := buildSealer(cfg.PIIKey, logger)
	if err != nil {
		return ledger.Module{}, nil, err
	}

	deps := ledger.Dependencies{
		Publisher:      events.NewPublisher(bus, logger),
		PII:            sealer,
		Observer:       m,
		Policy:         policy,
		IdempotencyTTL: cfg.IdempotencyTTL,
		PendingTTL:     time.Minute,
		OutboxRetry:    services.RetryPolicy{MaxAttempts: cfg.OutboxMaxAttempts, ClaimLease: cfg.ClaimLease},
		JobRetry:       services.RetryPolicy{MaxAttempts: cfg.JobMaxAttempts, ClaimLease: cfg.ClaimLease},
		BatchSize:      cfg.WorkerBatchSize,
		SourceService:  cfg.ServiceName,
		Logger:         logger,
	}

	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		logger.Warn("POSTGRES_DSN not set, using in-memory ledger store",
			"event", "bootstrap_memory_store",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		store := memory.NewStore()
		deps.Documents = store
		deps.Idempotency = store
		deps.Audit = store
		deps.Outbox = store
		deps.Receipts = store
		deps.Queue = store
		deps.ReadViews = store
		deps.Notifications = store
		deps.Clock = store
		deps.IDGenerator = store
		module := ledger.NewModule(deps)
		module.Store = store
		return module, nil, nil
	}

	pg, err := db.Connect(cfg.PostgresDSN, logger)
	if err != nil {
		return ledger.Module{}, nil, err
	}
	if cfg.DBAutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresadapter.AutoMigrate(ctx, pg.DB); err != nil {
			_ = pg.Close()
			return ledger.Module{}, nil, err
		}
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	deps.Documents = repo
	deps.Idempotency = repo
	deps.Audit = repo
	deps.Outbox = repo
	deps.Receipts = repo
	deps.Queue = repo
	deps.ReadViews = repo
	deps.Notifications = repo
	deps.Clock = postgresadapter.SystemClock{}
	deps.IDGenerator = postgresadapter.UUIDGenerator{}
	return ledger.NewModule(deps), pg, nil
}

// buildSealer expects PII_KEY as 64 hex characters. Without one a random
// per-process key is used, so sealed refs do not survive a restart.
func buildSealer(rawKey string, logger *slog.Logger) (*pii.Sealer, error) {
	var key []byte
	if rawKey == "" {
		logger.Warn("PII_KEY not set, generating an ephemeral key",
			"event", "bootstrap_ephemeral_pii_key",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate pii key: %w", err)
		}
	} else {
		decoded, err := hex.DecodeString(rawKey)
		if err != nil {
			return nil, fmt.Errorf("PII_KEY: %w", err)
		}
		key = decoded
	}
	sealer, err := pii.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("PII_KEY: %w", err)
	}
	return sealer, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- a.server.Start()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.bus.Subscribe(ctx, events.NotificationsTopic, "ledger-notification-audit", w.logNotification)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"outbox_relay", w.outboxRelay != nil,
		"job_runner", w.jobRunner != nil,
		"idempotency_sweep", w.sweeper != nil,
	)

	for {
		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) runOnce(ctx context.Context) error {
	if w.sweeper != nil {
		if _, err := w.sweeper.RunOnce(ctx); err != nil {
			return err
		}
	}
	if w.outboxRelay != nil {
		if _, err := w.outboxRelay.RunOnce(ctx, workers.Filter{}); err != nil {
			return err
		}
	}
	if w.jobRunner != nil {
		if _, err := w.jobRunner.RunOnce(ctx, workers.Filter{}); err != nil {
			return err
		}
	}
	return nil
}

func (w *WorkerApp) logNotification(_ context.Context, envelope contractsv1.Envelope) error {
	w.logger.Info("ledger notification published",
		"event", "bootstrap_notification_observed",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
	)
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func newLogger(cfg config.Config, process string) *slog.Logger {
	logger := logging.NewLogger(logging.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	}).With("process", process)
	slog.SetDefault(logger)
	return logger
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
