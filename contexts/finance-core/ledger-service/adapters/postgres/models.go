package postgresadapter

import (
	"bytes"
	"encoding/json"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
)

// Scheduling columns (next attempt, claim, expiry) are unix milliseconds so
// due-work comparisons behave identically on every supported dialect.

type documentModel struct {
	TenantID   string    `gorm:"column:tenant_id;primaryKey"`
	EntityType string    `gorm:"column:entity_type;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Version    int64     `gorm:"column:version;not null"`
	Fields     string    `gorm:"column:fields;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	CreatedBy  string    `gorm:"column:created_by"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
	UpdatedBy  string    `gorm:"column:updated_by"`
}

func (documentModel) TableName() string {
	return "ledger_documents"
}

func documentModelFromEntity(doc entities.Document) (documentModel, error) {
	fields, err := encodeJSON(doc.Fields)
	if err != nil {
		return documentModel{}, err
	}
	return documentModel{
		TenantID:   doc.Key.TenantID,
		EntityType: string(doc.Key.EntityType),
		ID:         doc.Key.ID,
		Version:    doc.Version,
		Fields:     fields,
		CreatedAt:  doc.CreatedAt.UTC(),
		CreatedBy:  doc.CreatedBy,
		UpdatedAt:  doc.UpdatedAt.UTC(),
		UpdatedBy:  doc.UpdatedBy,
	}, nil
}

func (m documentModel) toEntity() (entities.Document, error) {
	fields, err := decodeJSON(m.Fields)
	if err != nil {
		return entities.Document{}, err
	}
	return entities.Document{
		Key: entities.DocumentKey{
			TenantID:   m.TenantID,
			EntityType: entities.EntityType(m.EntityType),
			ID:         m.ID,
		},
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		CreatedBy: m.CreatedBy,
		UpdatedAt: m.UpdatedAt.UTC(),
		UpdatedBy: m.UpdatedBy,
		Fields:    fields,
	}, nil
}

type idempotencyModel struct {
	TenantID           string    `gorm:"column:tenant_id;primaryKey"`
	Key                string    `gorm:"column:idempotency_key;primaryKey"`
	RequestFingerprint string    `gorm:"column:request_fingerprint;not null"`
	Status             string    `gorm:"column:status;not null"`
	ResponseStatus     int       `gorm:"column:response_status"`
	ResponseBody       []byte    `gorm:"column:response_body"`
	Retryable          bool      `gorm:"column:retryable"`
	ActorID            string    `gorm:"column:actor_id"`
	RequestID          string    `gorm:"column:request_id"`
	Attempt            int       `gorm:"column:attempt"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
	ExpiresAtMS        int64     `gorm:"column:expires_at_ms;index"`
}

func (idempotencyModel) TableName() string {
	return "ledger_idempotency"
}

func (m idempotencyModel) toEntity() entities.IdempotencyRecord {
	return entities.IdempotencyRecord{
		TenantID:           m.TenantID,
		Key:                m.Key,
		RequestFingerprint: m.RequestFingerprint,
		Status:             entities.IdempotencyStatus(m.Status),
		ResponseStatus:     m.ResponseStatus,
		ResponseBody:       append([]byte(nil), m.ResponseBody...),
		Retryable:          m.Retryable,
		ActorID:            m.ActorID,
		RequestID:          m.RequestID,
		Attempt:            m.Attempt,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
		ExpiresAt:          fromMillis(m.ExpiresAtMS),
	}
}

type auditEntryModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	TenantID    string `gorm:"column:tenant_id;uniqueIndex:ux_ledger_audit_chain,priority:1;not null"`
	ChainSeq    int64  `gorm:"column:chain_seq;uniqueIndex:ux_ledger_audit_chain,priority:2;not null"`
	EntityType  string `gorm:"column:entity_type"`
	EntityID    string `gorm:"column:entity_id"`
	Action      string `gorm:"column:action;not null"`
	ActorRef    string `gorm:"column:actor_ref"`
	ActorRole   string `gorm:"column:actor_role"`
	RequestID   string `gorm:"column:request_id"`
	Details     string `gorm:"column:details;type:text"`
	Metadata    string `gorm:"column:metadata;type:text"`
	TimestampUS int64  `gorm:"column:timestamp_us;not null"`
	PrevHash    string `gorm:"column:prev_hash"`
	Hash        string `gorm:"column:hash;not null"`
}

func (auditEntryModel) TableName() string {
	return "ledger_audit_entries"
}

func auditEntryModelFromEntity(entry entities.AuditEntry) (auditEntryModel, error) {
	details, err := encodeJSON(entry.Details)
	if err != nil {
		return auditEntryModel{}, err
	}
	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return auditEntryModel{}, err
	}
	return auditEntryModel{
		ID:          entry.ID,
		TenantID:    entry.TenantID,
		ChainSeq:    entry.ChainSeq,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      entry.Action,
		ActorRef:    entry.Actor.Ref,
		ActorRole:   entry.Actor.Role,
		RequestID:   entry.RequestID,
		Details:     details,
		Metadata:    metadata,
		TimestampUS: entry.Timestamp.UTC().UnixMicro(),
		PrevHash:    entry.PrevHash,
		Hash:        entry.Hash,
	}, nil
}

func (m auditEntryModel) toEntity() (entities.AuditEntry, error) {
	details, err := decodeJSON(m.Details)
	if err != nil {
		return entities.AuditEntry{}, err
	}
	metadata, err := decodeJSON(m.Metadata)
	if err != nil {
		return entities.AuditEntry{}, err
	}
	return entities.AuditEntry{
		ID:         m.ID,
		TenantID:   m.TenantID,
		ChainSeq:   m.ChainSeq,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Action:     m.Action,
		Actor:      entities.ActorRef{Ref: m.ActorRef, Role: m.ActorRole},
		RequestID:  m.RequestID,
		Details:    details,
		Metadata:   metadata,
		Timestamp:  time.UnixMicro(m.TimestampUS).UTC(),
		PrevHash:   m.PrevHash,
		Hash:       m.Hash,
	}, nil
}

type auditHeadModel struct {
	TenantID  string    `gorm:"column:tenant_id;primaryKey"`
	LastSeq   int64     `gorm:"column:last_seq;not null"`
	LastHash  string    `gorm:"column:last_hash;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (auditHeadModel) TableName() string {
	return "ledger_audit_heads"
}

func (m auditHeadModel) toEntity() entities.AuditHead {
	return entities.AuditHead{
		TenantID:  m.TenantID,
		LastSeq:   m.LastSeq,
		LastHash:  m.LastHash,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type outboxModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	TenantID        string    `gorm:"column:tenant_id;index;not null"`
	EventType       string    `gorm:"column:event_type;not null"`
	EntityType      string    `gorm:"column:entity_type"`
	EntityID        string    `gorm:"column:entity_id"`
	Payload         []byte    `gorm:"column:payload"`
	Status          string    `gorm:"column:status;index:ix_ledger_outbox_due,priority:1;not null"`
	Attempts        int       `gorm:"column:attempts;not null"`
	NextAttemptAtMS int64     `gorm:"column:next_attempt_at_ms;index:ix_ledger_outbox_due,priority:2"`
	ClaimedAtMS     *int64    `gorm:"column:claimed_at_ms"`
	LastError       string    `gorm:"column:last_error"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (outboxModel) TableName() string {
	return "ledger_outbox"
}

func outboxModelFromEntity(event entities.OutboxEvent) outboxModel {
	return outboxModel{
		ID:              event.ID,
		TenantID:        event.TenantID,
		EventType:       event.EventType,
		EntityType:      event.EntityType,
		EntityID:        event.EntityID,
		Payload:         append([]byte(nil), event.Payload...),
		Status:          string(event.Status),
		Attempts:        event.Attempts,
		NextAttemptAtMS: event.NextAttemptAt.UTC().UnixMilli(),
		ClaimedAtMS:     toOptionalMillis(event.ClaimedAt),
		LastError:       event.LastError,
		CreatedAt:       event.CreatedAt.UTC(),
		UpdatedAt:       event.UpdatedAt.UTC(),
	}
}

func (m outboxModel) toEntity() entities.OutboxEvent {
	return entities.OutboxEvent{
		ID:            m.ID,
		TenantID:      m.TenantID,
		EventType:     m.EventType,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		Payload:       append([]byte(nil), m.Payload...),
		Status:        entities.WorkStatus(m.Status),
		Attempts:      m.Attempts,
		NextAttemptAt: fromMillis(m.NextAttemptAtMS),
		ClaimedAt:     fromOptionalMillis(m.ClaimedAtMS),
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type receiptModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	Handler     string    `gorm:"column:handler;primaryKey"`
	TenantID    string    `gorm:"column:tenant_id"`
	DeliveredAt time.Time `gorm:"column:delivered_at"`
}

func (receiptModel) TableName() string {
	return "ledger_delivery_receipts"
}

type jobModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	TenantID        string    `gorm:"column:tenant_id;index;not null"`
	EventID         string    `gorm:"column:event_id;not null"`
	ViewName        string    `gorm:"column:view_name;not null"`
	ViewKey         string    `gorm:"column:view_key;not null"`
	DedupeKey       string    `gorm:"column:dedupe_key;not null"`
	Status          string    `gorm:"column:status;index:ix_ledger_jobs_due,priority:1;not null"`
	Attempts        int       `gorm:"column:attempts;not null"`
	NextAttemptAtMS int64     `gorm:"column:next_attempt_at_ms;index:ix_ledger_jobs_due,priority:2"`
	ClaimedAtMS     *int64    `gorm:"column:claimed_at_ms"`
	LastError       string    `gorm:"column:last_error"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (jobModel) TableName() string {
	return "ledger_jobs"
}

func jobModelFromEntity(job entities.Job) jobModel {
	return jobModel{
		ID:              job.ID,
		TenantID:        job.TenantID,
		EventID:         job.EventID,
		ViewName:        string(job.ViewName),
		ViewKey:         job.ViewKey,
		DedupeKey:       job.DedupeKey,
		Status:          string(job.Status),
		Attempts:        job.Attempts,
		NextAttemptAtMS: job.NextAttemptAt.UTC().UnixMilli(),
		ClaimedAtMS:     toOptionalMillis(job.ClaimedAt),
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt.UTC(),
		UpdatedAt:       job.UpdatedAt.UTC(),
	}
}

func (m jobModel) toEntity() entities.Job {
	return entities.Job{
		ID:            m.ID,
		TenantID:      m.TenantID,
		EventID:       m.EventID,
		ViewName:      entities.ViewName(m.ViewName),
		ViewKey:       m.ViewKey,
		DedupeKey:     m.DedupeKey,
		Status:        entities.WorkStatus(m.Status),
		Attempts:      m.Attempts,
		NextAttemptAt: fromMillis(m.NextAttemptAtMS),
		ClaimedAt:     fromOptionalMillis(m.ClaimedAtMS),
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type readViewModel struct {
	TenantID      string    `gorm:"column:tenant_id;primaryKey"`
	ViewName      string    `gorm:"column:view_name;primaryKey"`
	ViewKey       string    `gorm:"column:view_key;primaryKey"`
	Data          string    `gorm:"column:data;type:text"`
	SourceEventID string    `gorm:"column:source_event_id"`
	SourceJobID   string    `gorm:"column:source_job_id"`
	RebuiltAt     time.Time `gorm:"column:rebuilt_at"`
}

func (readViewModel) TableName() string {
	return "ledger_read_views"
}

func (m readViewModel) toEntity() (entities.ReadView, error) {
	data, err := decodeJSON(m.Data)
	if err != nil {
		return entities.ReadView{}, err
	}
	return entities.ReadView{
		TenantID:      m.TenantID,
		ViewName:      entities.ViewName(m.ViewName),
		Key:           m.ViewKey,
		Data:          data,
		SourceEventID: m.SourceEventID,
		SourceJobID:   m.SourceJobID,
		RebuiltAt:     m.RebuiltAt.UTC(),
	}, nil
}

type notificationModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	TenantID    string    `gorm:"column:tenant_id;index:ix_ledger_notifications_recipient,priority:1"`
	RecipientID string    `gorm:"column:recipient_id;index:ix_ledger_notifications_recipient,priority:2"`
	EventID     string    `gorm:"column:event_id"`
	Kind        string    `gorm:"column:kind"`
	EntityType  string    `gorm:"column:entity_type"`
	EntityID    string    `gorm:"column:entity_id"`
	Message     string    `gorm:"column:message"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (notificationModel) TableName() string {
	return "ledger_notifications"
}

func encodeJSON(value map[string]any) (string, error) {
	if value == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeJSON keeps numbers as json.Number so integral amounts and versions
// survive the round trip exactly.
func decodeJSON(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	out := map[string]any{}
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func toOptionalMillis(value *time.Time) *int64 {
	if value == nil {
		return nil
	}
	ms := value.UTC().UnixMilli()
	return &ms
}

func fromOptionalMillis(value *int64) *time.Time {
	if value == nil {
		return nil
	}
	t := time.UnixMilli(*value).UTC()
	return &t
}
