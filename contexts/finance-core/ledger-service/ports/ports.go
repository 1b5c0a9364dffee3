package ports

import (
	"context"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	contractsv1 "ledgerflow/contracts/gen/events/v1"
)

// Clock abstracts current time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID generation for documents, audit entries and outbox rows.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// UpsertInput describes one optimistic document write.
type UpsertInput struct {
	Key             entities.DocumentKey
	Fields          map[string]any
	Defaults        map[string]any
	ExpectedVersion *int64
	Mode            entities.WriteMode
	ActorID         string
	Now             time.Time
	// Guard runs inside the write transaction after the version check and
	// before the write. A non-nil error aborts the write.
	Guard func(before *entities.Document) error
	// Outbox, when set, is co-committed with the write.
	Outbox *services.OutboxSpec
}

// UpsertResult carries both sides of a committed write.
type UpsertResult struct {
	Before  *entities.Document
	After   entities.Document
	Created bool
	Event   *entities.OutboxEvent
}

// DocumentStore is the versioned entity store.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, input UpsertInput) (UpsertResult, error)
	GetDocument(ctx context.Context, key entities.DocumentKey) (entities.Document, error)
	ListDocuments(ctx context.Context, tenantID string, entityType entities.EntityType) ([]entities.Document, error)
}

// BeginInput opens or resumes an idempotent attempt. PendingUntil bounds how
// long the pending attempt blocks the key before it becomes reusable.
type BeginInput struct {
	TenantID     string
	Key          string
	Fingerprint  string
	ActorID      string
	RequestID    string
	Now          time.Time
	PendingUntil time.Time
}

// BeginResult is the guard decision plus the record it was made against.
type BeginResult struct {
	Outcome entities.BeginOutcome
	Record  entities.IdempotencyRecord
}

// IdempotencyOutcome finalizes an attempt.
type IdempotencyOutcome struct {
	TenantID       string
	Key            string
	ResponseStatus int
	ResponseBody   []byte
	Retryable      bool
	Now            time.Time
	ExpiresAt      time.Time
}

// IdempotencyStore guarantees replay/conflict behavior for mutating endpoints.
type IdempotencyStore interface {
	BeginIdempotency(ctx context.Context, input BeginInput) (BeginResult, error)
	CompleteIdempotency(ctx context.Context, outcome IdempotencyOutcome) error
	FailIdempotency(ctx context.Context, outcome IdempotencyOutcome) error
	PurgeExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int, error)
}

// AuditLedger is the only writer of the per-tenant hash chain.
type AuditLedger interface {
	AppendAudit(ctx context.Context, input services.AuditAppend) (entities.AuditEntry, error)
	// ListAuditEntries orders by chainSeq. afterSeq <= 0 lists from the start,
	// including entries whose sequence is not positive.
	ListAuditEntries(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]entities.AuditEntry, error)
	// GetAuditHead returns nil when the tenant has no chain yet.
	GetAuditHead(ctx context.Context, tenantID string) (*entities.AuditHead, error)
}

// WorkFilter narrows a worker pass.
type WorkFilter struct {
	TenantID    string
	EventID     string
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}

// RetryInput records a failed attempt. Dead marks the item terminal.
type RetryInput struct {
	ID            string
	LastError     string
	NextAttemptAt time.Time
	Dead          bool
	Now           time.Time
}

// OutboxRepository is the relay-facing side of the outbox.
type OutboxRepository interface {
	ListDueOutbox(ctx context.Context, filter WorkFilter) ([]entities.OutboxEvent, error)
	// ClaimOutbox returns false when the event is no longer claimable.
	ClaimOutbox(ctx context.Context, id string, now time.Time, staleBefore time.Time) (entities.OutboxEvent, bool, error)
	CompleteOutbox(ctx context.Context, id string, now time.Time) error
	RetryOutbox(ctx context.Context, input RetryInput) error
	RequeueDeadOutbox(ctx context.Context, id string, now time.Time) (entities.OutboxEvent, error)
	GetOutboxEvent(ctx context.Context, id string) (entities.OutboxEvent, error)
}

// DeliveryReceiptStore makes delivery handlers idempotent.
type DeliveryReceiptStore interface {
	RecordDelivery(ctx context.Context, receipt entities.DeliveryReceipt) (bool, error)
}

// WorkQueueRepository stores read-view rebuild jobs.
type WorkQueueRepository interface {
	// EnqueueJob is create-if-absent on the deterministic job id.
	EnqueueJob(ctx context.Context, job entities.Job) (bool, error)
	ListDueJobs(ctx context.Context, filter WorkFilter) ([]entities.Job, error)
	ClaimJob(ctx context.Context, id string, now time.Time, staleBefore time.Time) (entities.Job, bool, error)
	CompleteJob(ctx context.Context, id string, now time.Time) error
	RetryJob(ctx context.Context, input RetryInput) error
	RequeueDeadJob(ctx context.Context, id string, now time.Time) (entities.Job, error)
	GetJob(ctx context.Context, id string) (entities.Job, error)
}

// ReadViewStore holds derived projections. PutReadView always overwrites.
type ReadViewStore interface {
	PutReadView(ctx context.Context, view entities.ReadView) error
	GetReadView(ctx context.Context, tenantID string, name entities.ViewName, key string) (entities.ReadView, error)
}

// NotificationStore is create-if-absent on notification id.
type NotificationStore interface {
	CreateNotification(ctx context.Context, notification entities.Notification) (bool, error)
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher emits notification envelopes to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, envelope EventEnvelope) error
}

// PIIProtector turns a plaintext identifier into an opaque, tenant-scoped reference.
type PIIProtector interface {
	Protect(ctx context.Context, tenantID string, plaintext string) (string, error)
}

// PipelineObserver receives outcome counts from the write pipeline and workers.
type PipelineObserver interface {
	ObserveIdempotency(outcome string)
	ObserveOutbox(outcome string)
	ObserveJob(outcome string)
	ObserveAuditVerify(result string)
}
