package ledger

import (
	"crypto/rand"
	"log/slog"
	"time"

	httpadapter "ledgerflow/contexts/finance-core/ledger-service/adapters/http"
	"ledgerflow/contexts/finance-core/ledger-service/adapters/memory"
	"ledgerflow/contexts/finance-core/ledger-service/adapters/pii"
	"ledgerflow/contexts/finance-core/ledger-service/application/commands"
	"ledgerflow/contexts/finance-core/ledger-service/application/queries"
	"ledgerflow/contexts/finance-core/ledger-service/application/workers"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// Module is the ledger-service composition root exposed to runtime wiring.
type Module struct {
	Handler httpadapter.Handler
	Relay   workers.OutboxRelay
	Jobs    workers.JobRunner
	Sweeper workers.IdempotencySweeper
	Store   *memory.Store
}

// Dependencies captures all runtime ports/config required by NewModule.
type Dependencies struct {
	Documents      ports.DocumentStore
	Idempotency    ports.IdempotencyStore
	Audit          ports.AuditLedger
	Outbox         ports.OutboxRepository
	Receipts       ports.DeliveryReceiptStore
	Queue          ports.WorkQueueRepository
	ReadViews      ports.ReadViewStore
	Notifications  ports.NotificationStore
	Publisher      ports.EventPublisher
	PII            ports.PIIProtector
	Clock          ports.Clock
	IDGenerator    ports.IDGenerator
	Observer       ports.PipelineObserver
	Policy         entities.RolePolicy
	IdempotencyTTL time.Duration
	PendingTTL     time.Duration
	OutboxRetry    services.RetryPolicy
	JobRetry       services.RetryPolicy
	BatchSize      int
	SourceService  string
	Logger         *slog.Logger
}

// NewModule wires use-cases, workers and the transport handler using explicit ports.
func NewModule(deps Dependencies) Module {
	pipeline := commands.Pipeline{
		Idempotency:    deps.Idempotency,
		Audit:          deps.Audit,
		PII:            deps.PII,
		Clock:          deps.Clock,
		IDGenerator:    deps.IDGenerator,
		Policy:         deps.Policy,
		Observer:       deps.Observer,
		IdempotencyTTL: deps.IdempotencyTTL,
		PendingTTL:     deps.PendingTTL,
		Logger:         deps.Logger,
	}

	relay := workers.OutboxRelay{
		Outbox: deps.Outbox,
		Handlers: []workers.DeliveryHandler{
			workers.FanoutHandler{
				Receipts:      deps.Receipts,
				Queue:         deps.Queue,
				Notifications: deps.Notifications,
				Documents:     deps.Documents,
				Publisher:     deps.Publisher,
				Policy:        deps.Policy,
				Clock:         deps.Clock,
				SourceService: deps.SourceService,
				Logger:        deps.Logger,
			},
		},
		Clock:     deps.Clock,
		Policy:    deps.OutboxRetry,
		Observer:  deps.Observer,
		BatchSize: deps.BatchSize,
		Logger:    deps.Logger,
	}
	jobs := workers.JobRunner{
		Queue: deps.Queue,
		Handler: workers.ProjectionHandler{
			Documents: deps.Documents,
			ReadViews: deps.ReadViews,
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		},
		Clock:     deps.Clock,
		Policy:    deps.JobRetry,
		Observer:  deps.Observer,
		BatchSize: deps.BatchSize,
		Logger:    deps.Logger,
	}
	sweeper := workers.IdempotencySweeper{
		Idempotency: deps.Idempotency,
		Clock:       deps.Clock,
		BatchSize:   deps.BatchSize,
		Logger:      deps.Logger,
	}

	handler := httpadapter.Handler{
		UpsertEntity: commands.UpsertEntityUseCase{
			Pipeline:  pipeline,
			Documents: deps.Documents,
			Logger:    deps.Logger,
		},
		Transition: commands.TransitionTransactionUseCase{
			Pipeline:  pipeline,
			Documents: deps.Documents,
			Logger:    deps.Logger,
		},
		ChangeRole: commands.ChangeMemberRoleUseCase{
			Pipeline:  pipeline,
			Documents: deps.Documents,
			Logger:    deps.Logger,
		},
		RebuildView: commands.RebuildReadViewUseCase{
			Pipeline: pipeline,
			Queue:    deps.Queue,
			Logger:   deps.Logger,
		},
		RequeueOutbox: commands.RequeueOutboxUseCase{
			Outbox: deps.Outbox,
			Clock:  deps.Clock,
			Logger: deps.Logger,
		},
		RequeueJob: commands.RequeueJobUseCase{
			Queue:  deps.Queue,
			Clock:  deps.Clock,
			Logger: deps.Logger,
		},
		GetEntity: queries.GetEntityUseCase{
			Documents: deps.Documents,
			Logger:    deps.Logger,
		},
		GetReadView: queries.GetReadViewUseCase{
			ReadViews: deps.ReadViews,
			Logger:    deps.Logger,
		},
		VerifyAudit: queries.VerifyAuditChainUseCase{
			Audit:    deps.Audit,
			Policy:   deps.Policy,
			Observer: deps.Observer,
			Logger:   deps.Logger,
		},
		Inspect: queries.InspectWorkUseCase{
			Outbox: deps.Outbox,
			Queue:  deps.Queue,
		},
		Relay:  relay,
		Jobs:   jobs,
		Logger: deps.Logger,
	}

	return Module{
		Handler: handler,
		Relay:   relay,
		Jobs:    jobs,
		Sweeper: sweeper,
	}
}

// NewInMemoryModule builds a development/testing module with in-memory
// adapters, the default role policy and a random per-process PII key.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	sealer, err := pii.NewSealer(key)
	if err != nil {
		panic(err)
	}
	module := NewModule(Dependencies{
		Documents:      store,
		Idempotency:    store,
		Audit:          store,
		Outbox:         store,
		Receipts:       store,
		Queue:          store,
		ReadViews:      store,
		Notifications:  store,
		PII:            sealer,
		Clock:          store,
		IDGenerator:    store,
		Policy:         entities.DefaultRolePolicy(),
		IdempotencyTTL: 24 * time.Hour,
		PendingTTL:     time.Minute,
		SourceService:  "ledger-service",
		Logger:         logger,
	})
	module.Store = store
	return module
}
