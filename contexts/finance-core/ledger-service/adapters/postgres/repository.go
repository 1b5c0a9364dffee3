package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const auditAppendAttempts = 5

// errAuditHeadMoved signals that another writer advanced the chain between
// reading the head and inserting the entry.
var errAuditHeadMoved = errors.New("audit head moved")

// Repository implements the ledger ports on gorm. Every multi-row change
// runs in one database transaction; optimistic checks are conditional
// updates verified through RowsAffected.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) UpsertDocument(ctx context.Context, input ports.UpsertInput) (ports.UpsertResult, error) {
	if err := input.Key.Validate(); err != nil {
		return ports.UpsertResult{}, err
	}

	var result ports.UpsertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := findDocument(tx.Clauses(clause.Locking{Strength: "UPDATE"}), input.Key)
		if err != nil {
			return err
		}
		if err := services.CheckExpectedVersion(before, input.ExpectedVersion); err != nil {
			return err
		}
		if input.Guard != nil {
			var guarded *entities.Document
			if before != nil {
				cloned := before.Clone()
				guarded = &cloned
			}
			if err := input.Guard(guarded); err != nil {
				return err
			}
		}

		after, err := services.NextDocument(before, services.WriteRequest{
			Key:      input.Key,
			Fields:   input.Fields,
			Defaults: input.Defaults,
			Mode:     input.Mode,
			ActorID:  input.ActorID,
			Now:      input.Now,
		})
		if err != nil {
			return err
		}
		row, err := documentModelFromEntity(after)
		if err != nil {
			return err
		}

		if before == nil {
			create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if create.Error != nil {
				return create.Error
			}
			if create.RowsAffected == 0 {
				return versionConflict(tx, input.Key, input.ExpectedVersion)
			}
		} else {
			update := tx.Model(&documentModel{}).
				Scopes(documentKeyScope(input.Key)).
				Where("version = ?", before.Version).
				Updates(map[string]any{
					"version":    row.Version,
					"fields":     row.Fields,
					"updated_at": row.UpdatedAt,
					"updated_by": row.UpdatedBy,
				})
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return versionConflict(tx, input.Key, input.ExpectedVersion)
			}
		}

		var event *entities.OutboxEvent
		if input.Outbox != nil {
			built, err := services.BuildOutboxEvent(*input.Outbox, before, after, input.Now)
			if err != nil {
				return err
			}
			outboxRow := outboxModelFromEntity(built)
			if err := tx.Create(&outboxRow).Error; err != nil {
				if isUniqueViolation(err) {
					return domainerrors.ErrRepositoryInvariantBroke
				}
				return err
			}
			event = &built
		}

		result = ports.UpsertResult{
			Before:  before,
			After:   after,
			Created: before == nil,
			Event:   event,
		}
		return nil
	})
	if err != nil {
		return ports.UpsertResult{}, r.classify("ledger_repo_upsert_document_failed", err,
			"tenant_id", input.Key.TenantID,
			"entity_type", string(input.Key.EntityType),
			"entity_id", input.Key.ID,
		)
	}
	return result, nil
}

func (r *Repository) GetDocument(ctx context.Context, key entities.DocumentKey) (entities.Document, error) {
	doc, err := findDocument(r.db.WithContext(ctx), key)
	if err != nil {
		return entities.Document{}, r.logError("ledger_repo_get_document_failed", err,
			"tenant_id", key.TenantID,
			"entity_type", string(key.EntityType),
			"entity_id", key.ID,
		)
	}
	if doc == nil {
		return entities.Document{}, domainerrors.ErrDocumentNotFound
	}
	return *doc, nil
}

func (r *Repository) ListDocuments(ctx context.Context, tenantID string, entityType entities.EntityType) ([]entities.Document, error) {
	var rows []documentModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ?", strings.TrimSpace(tenantID), string(entityType)).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_documents_failed", err,
			"tenant_id", tenantID,
			"entity_type", string(entityType),
		)
	}
	items := make([]entities.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toEntity()
		if err != nil {
			return nil, r.logError("ledger_repo_decode_document_failed", err, "entity_id", row.ID)
		}
		items = append(items, doc)
	}
	return items, nil
}

func (r *Repository) BeginIdempotency(ctx context.Context, input ports.BeginInput) (ports.BeginResult, error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return ports.BeginResult{}, domainerrors.ErrMissingTenant
	}
	if strings.TrimSpace(input.Key) == "" {
		return ports.BeginResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	var result ports.BeginResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findIdempotency(tx.Clauses(clause.Locking{Strength: "UPDATE"}), input.TenantID, input.Key)
		if err != nil {
			return err
		}
		outcome := entities.BeginDecision(existing, input.Fingerprint, input.Now)
		if outcome != entities.BeginStarted {
			result = ports.BeginResult{Outcome: outcome, Record: *existing}
			return nil
		}

		now := input.Now.UTC()
		row := idempotencyModel{
			TenantID:           input.TenantID,
			Key:                input.Key,
			RequestFingerprint: input.Fingerprint,
			Status:             string(entities.IdempotencyStatusPending),
			ActorID:            input.ActorID,
			RequestID:          input.RequestID,
			Attempt:            1,
			CreatedAt:          now,
			UpdatedAt:          now,
			ExpiresAtMS:        input.PendingUntil.UTC().UnixMilli(),
		}
		var affected int64
		if existing == nil {
			create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if create.Error != nil {
				return create.Error
			}
			affected = create.RowsAffected
		} else {
			row.Attempt = existing.Attempt + 1
			row.CreatedAt = existing.CreatedAt
			update := tx.Model(&idempotencyModel{}).
				Where("tenant_id = ? AND idempotency_key = ? AND attempt = ?", input.TenantID, input.Key, existing.Attempt).
				Updates(map[string]any{
					"request_fingerprint": row.RequestFingerprint,
					"status":              row.Status,
					"response_status":     0,
					"response_body":       nil,
					"retryable":           false,
					"actor_id":            row.ActorID,
					"request_id":          row.RequestID,
					"attempt":             row.Attempt,
					"updated_at":          row.UpdatedAt,
					"expires_at_ms":       row.ExpiresAtMS,
				})
			if update.Error != nil {
				return update.Error
			}
			affected = update.RowsAffected
		}
		if affected == 0 {
			// Lost the race to a concurrent attempt with the same key.
			current, err := findIdempotency(tx, input.TenantID, input.Key)
			if err != nil {
				return err
			}
			if current == nil {
				return domainerrors.ErrRepositoryInvariantBroke
			}
			result = ports.BeginResult{Outcome: entities.BeginInProgress, Record: *current}
			if current.RequestFingerprint != input.Fingerprint {
				result.Outcome = entities.BeginConflict
			}
			return nil
		}
		result = ports.BeginResult{Outcome: entities.BeginStarted, Record: row.toEntity()}
		return nil
	})
	if err != nil {
		return ports.BeginResult{}, r.classify("ledger_repo_begin_idempotency_failed", err,
			"tenant_id", input.TenantID,
			"idempotency_key", input.Key,
		)
	}
	return result, nil
}

func (r *Repository) CompleteIdempotency(ctx context.Context, outcome ports.IdempotencyOutcome) error {
	return r.finishIdempotency(ctx, outcome, entities.IdempotencyStatusCompleted)
}

func (r *Repository) FailIdempotency(ctx context.Context, outcome ports.IdempotencyOutcome) error {
	return r.finishIdempotency(ctx, outcome, entities.IdempotencyStatusFailed)
}

func (r *Repository) finishIdempotency(ctx context.Context, outcome ports.IdempotencyOutcome, status entities.IdempotencyStatus) error {
	update := r.db.WithContext(ctx).
		Model(&idempotencyModel{}).
		Where("tenant_id = ? AND idempotency_key = ?", outcome.TenantID, outcome.Key).
		Updates(map[string]any{
			"status":          string(status),
			"response_status": outcome.ResponseStatus,
			"response_body":   append([]byte(nil), outcome.ResponseBody...),
			"retryable":       status == entities.IdempotencyStatusFailed && outcome.Retryable,
			"updated_at":      outcome.Now.UTC(),
			"expires_at_ms":   outcome.ExpiresAt.UTC().UnixMilli(),
		})
	if update.Error != nil {
		return r.logError("ledger_repo_finish_idempotency_failed", update.Error,
			"tenant_id", outcome.TenantID,
			"idempotency_key", outcome.Key,
			"status", string(status),
		)
	}
	if update.RowsAffected == 0 {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	return nil
}

func (r *Repository) PurgeExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int, error) {
	cutoff := now.UTC().UnixMilli()
	query := r.db.WithContext(ctx).
		Select("tenant_id", "idempotency_key").
		Where("expires_at_ms > 0 AND expires_at_ms <= ?", cutoff).
		Order("expires_at_ms ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []idempotencyModel
	if err := query.Find(&rows).Error; err != nil {
		return 0, r.logError("ledger_repo_list_expired_idempotency_failed", err)
	}

	purged := 0
	for _, row := range rows {
		deleted := r.db.WithContext(ctx).
			Where("tenant_id = ? AND idempotency_key = ? AND expires_at_ms <= ?", row.TenantID, row.Key, cutoff).
			Delete(&idempotencyModel{})
		if deleted.Error != nil {
			return purged, r.logError("ledger_repo_purge_idempotency_failed", deleted.Error,
				"tenant_id", row.TenantID,
				"idempotency_key", row.Key,
			)
		}
		purged += int(deleted.RowsAffected)
	}
	return purged, nil
}

// AppendAudit links one entry under a row lock on the tenant head. The
// (tenant_id, chain_seq) unique index and the conditional head update make a
// concurrent append lose cleanly; it is retried against the new head.
func (r *Repository) AppendAudit(ctx context.Context, input services.AuditAppend) (entities.AuditEntry, error) {
	var lastErr error
	for attempt := 0; attempt < auditAppendAttempts; attempt++ {
		entry, err := r.appendAuditOnce(ctx, input)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, errAuditHeadMoved) {
			return entities.AuditEntry{}, r.classify("ledger_repo_append_audit_failed", err,
				"tenant_id", input.TenantID,
				"audit_id", input.ID,
			)
		}
		lastErr = err
	}
	return entities.AuditEntry{}, r.logError("ledger_repo_append_audit_contended", lastErr,
		"tenant_id", input.TenantID,
		"audit_id", input.ID,
	)
}

func (r *Repository) appendAuditOnce(ctx context.Context, input services.AuditAppend) (entities.AuditEntry, error) {
	var entry entities.AuditEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head, err := findAuditHead(tx.Clauses(clause.Locking{Strength: "UPDATE"}), input.TenantID)
		if err != nil {
			return err
		}
		next, advanced, err := services.NextAuditEntry(head, input)
		if err != nil {
			return err
		}
		row, err := auditEntryModelFromEntity(next)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return errAuditHeadMoved
			}
			return err
		}

		headRow := auditHeadModel{
			TenantID:  advanced.TenantID,
			LastSeq:   advanced.LastSeq,
			LastHash:  advanced.LastHash,
			UpdatedAt: advanced.UpdatedAt,
		}
		var affected int64
		if head == nil {
			create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&headRow)
			if create.Error != nil {
				return create.Error
			}
			affected = create.RowsAffected
		} else {
			update := tx.Model(&auditHeadModel{}).
				Where("tenant_id = ? AND last_seq = ?", input.TenantID, head.LastSeq).
				Updates(map[string]any{
					"last_seq":   headRow.LastSeq,
					"last_hash":  headRow.LastHash,
					"updated_at": headRow.UpdatedAt,
				})
			if update.Error != nil {
				return update.Error
			}
			affected = update.RowsAffected
		}
		if affected == 0 {
			return errAuditHeadMoved
		}
		entry = next
		return nil
	})
	return entry, err
}

func (r *Repository) ListAuditEntries(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]entities.AuditEntry, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", strings.TrimSpace(tenantID))
	if afterSeq > 0 {
		query = query.Where("chain_seq > ?", afterSeq)
	}
	query = query.Order("chain_seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []auditEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_audit_entries_failed", err,
			"tenant_id", tenantID,
			"after_seq", afterSeq,
		)
	}
	items := make([]entities.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntity()
		if err != nil {
			return nil, r.logError("ledger_repo_decode_audit_entry_failed", err, "audit_id", row.ID)
		}
		items = append(items, entry)
	}
	return items, nil
}

func (r *Repository) GetAuditHead(ctx context.Context, tenantID string) (*entities.AuditHead, error) {
	head, err := findAuditHead(r.db.WithContext(ctx), strings.TrimSpace(tenantID))
	if err != nil {
		return nil, r.logError("ledger_repo_get_audit_head_failed", err, "tenant_id", tenantID)
	}
	return head, nil
}

func findDocument(db *gorm.DB, key entities.DocumentKey) (*entities.Document, error) {
	var row documentModel
	err := db.Scopes(documentKeyScope(key)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	doc, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func findIdempotency(db *gorm.DB, tenantID string, key string) (*entities.IdempotencyRecord, error) {
	var row idempotencyModel
	err := db.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	record := row.toEntity()
	return &record, nil
}

func findAuditHead(db *gorm.DB, tenantID string) (*entities.AuditHead, error) {
	var row auditHeadModel
	err := db.Where("tenant_id = ?", tenantID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	head := row.toEntity()
	return &head, nil
}

func documentKeyScope(key entities.DocumentKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ? AND entity_type = ? AND id = ?",
			key.TenantID, string(key.EntityType), key.ID)
	}
}

// versionConflict reports the version that won a lost conditional write.
func versionConflict(tx *gorm.DB, key entities.DocumentKey, expected *int64) error {
	if expected == nil {
		return domainerrors.ErrExpectedVersionRequired
	}
	want := *expected
	current, err := findDocument(tx, key)
	if err != nil {
		return err
	}
	var actual int64
	if current != nil {
		actual = current.Version
	}
	return domainerrors.NewVersionConflict(want, actual)
}

// classify passes domain errors through untouched and logs everything else.
func (r *Repository) classify(event string, err error, attrs ...any) error {
	if domainerrors.Classify(err).Code != "internal_error" {
		return err
	}
	return r.logError(event, err, attrs...)
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "finance-core/ledger-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("ledger repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

var _ ports.DocumentStore = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.AuditLedger = (*Repository)(nil)
