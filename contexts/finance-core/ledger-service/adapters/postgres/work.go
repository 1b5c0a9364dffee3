package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) ListDueOutbox(ctx context.Context, filter ports.WorkFilter) ([]entities.OutboxEvent, error) {
	var rows []outboxModel
	query := r.db.WithContext(ctx).Scopes(dueScope(filter.Now, filter.StaleBefore))
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		query = query.Where("id = ?", eventID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Order("next_attempt_at_ms ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_due_outbox_failed", err,
			"tenant_id", filter.TenantID,
			"event_id", filter.EventID,
		)
	}
	items := make([]entities.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// ClaimOutbox moves a due event to PROCESSING with a single conditional
// update; concurrent relays racing for the same row see RowsAffected == 0.
func (r *Repository) ClaimOutbox(ctx context.Context, id string, now time.Time, staleBefore time.Time) (entities.OutboxEvent, bool, error) {
	claimed, err := r.claimWork(ctx, &outboxModel{}, id, now, staleBefore)
	if err != nil {
		return entities.OutboxEvent{}, false, r.logError("ledger_repo_claim_outbox_failed", err, "event_id", id)
	}
	event, err := r.GetOutboxEvent(ctx, id)
	if err != nil {
		return entities.OutboxEvent{}, false, err
	}
	return event, claimed, nil
}

func (r *Repository) CompleteOutbox(ctx context.Context, id string, now time.Time) error {
	return r.completeWork(ctx, &outboxModel{}, domainerrors.ErrOutboxEventNotFound, "ledger_repo_complete_outbox_failed", id, now)
}

func (r *Repository) RetryOutbox(ctx context.Context, input ports.RetryInput) error {
	return r.retryWork(ctx, &outboxModel{}, domainerrors.ErrOutboxEventNotFound, "ledger_repo_retry_outbox_failed", input)
}

func (r *Repository) RequeueDeadOutbox(ctx context.Context, id string, now time.Time) (entities.OutboxEvent, error) {
	if err := r.requeueWork(ctx, &outboxModel{}, domainerrors.ErrOutboxEventNotFound, "ledger_repo_requeue_outbox_failed", id, now); err != nil {
		return entities.OutboxEvent{}, err
	}
	return r.GetOutboxEvent(ctx, id)
}

func (r *Repository) GetOutboxEvent(ctx context.Context, id string) (entities.OutboxEvent, error) {
	var row outboxModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OutboxEvent{}, domainerrors.ErrOutboxEventNotFound
		}
		return entities.OutboxEvent{}, r.logError("ledger_repo_get_outbox_failed", err, "event_id", id)
	}
	return row.toEntity(), nil
}

func (r *Repository) RecordDelivery(ctx context.Context, receipt entities.DeliveryReceipt) (bool, error) {
	row := receiptModel{
		EventID:     receipt.EventID,
		Handler:     receipt.Handler,
		TenantID:    receipt.TenantID,
		DeliveredAt: receipt.DeliveredAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "handler"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("ledger_repo_record_delivery_failed", create.Error,
			"event_id", receipt.EventID,
			"handler", receipt.Handler,
		)
	}
	return create.RowsAffected > 0, nil
}

// EnqueueJob inserts the job unless its deterministic id already exists.
func (r *Repository) EnqueueJob(ctx context.Context, job entities.Job) (bool, error) {
	row := jobModelFromEntity(job)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("ledger_repo_enqueue_job_failed", create.Error,
			"job_id", job.ID,
			"tenant_id", job.TenantID,
		)
	}
	return create.RowsAffected > 0, nil
}

func (r *Repository) ListDueJobs(ctx context.Context, filter ports.WorkFilter) ([]entities.Job, error) {
	var rows []jobModel
	query := r.db.WithContext(ctx).Scopes(dueScope(filter.Now, filter.StaleBefore))
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		query = query.Where("event_id = ?", eventID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Order("next_attempt_at_ms ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_due_jobs_failed", err,
			"tenant_id", filter.TenantID,
			"event_id", filter.EventID,
		)
	}
	items := make([]entities.Job, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ClaimJob(ctx context.Context, id string, now time.Time, staleBefore time.Time) (entities.Job, bool, error) {
	claimed, err := r.claimWork(ctx, &jobModel{}, id, now, staleBefore)
	if err != nil {
		return entities.Job{}, false, r.logError("ledger_repo_claim_job_failed", err, "job_id", id)
	}
	job, err := r.GetJob(ctx, id)
	if err != nil {
		return entities.Job{}, false, err
	}
	return job, claimed, nil
}

func (r *Repository) CompleteJob(ctx context.Context, id string, now time.Time) error {
	return r.completeWork(ctx, &jobModel{}, domainerrors.ErrJobNotFound, "ledger_repo_complete_job_failed", id, now)
}

func (r *Repository) RetryJob(ctx context.Context, input ports.RetryInput) error {
	return r.retryWork(ctx, &jobModel{}, domainerrors.ErrJobNotFound, "ledger_repo_retry_job_failed", input)
}

func (r *Repository) RequeueDeadJob(ctx context.Context, id string, now time.Time) (entities.Job, error) {
	if err := r.requeueWork(ctx, &jobModel{}, domainerrors.ErrJobNotFound, "ledger_repo_requeue_job_failed", id, now); err != nil {
		return entities.Job{}, err
	}
	return r.GetJob(ctx, id)
}

func (r *Repository) GetJob(ctx context.Context, id string) (entities.Job, error) {
	var row jobModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Job{}, domainerrors.ErrJobNotFound
		}
		return entities.Job{}, r.logError("ledger_repo_get_job_failed", err, "job_id", id)
	}
	return row.toEntity(), nil
}

// PutReadView overwrites the whole view row.
func (r *Repository) PutReadView(ctx context.Context, view entities.ReadView) error {
	data, err := encodeJSON(view.Data)
	if err != nil {
		return r.logError("ledger_repo_encode_read_view_failed", err, "view_name", string(view.ViewName))
	}
	row := readViewModel{
		TenantID:      view.TenantID,
		ViewName:      string(view.ViewName),
		ViewKey:       view.Key,
		Data:          data,
		SourceEventID: view.SourceEventID,
		SourceJobID:   view.SourceJobID,
		RebuiltAt:     view.RebuiltAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "view_name"}, {Name: "view_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "source_event_id", "source_job_id", "rebuilt_at"}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("ledger_repo_put_read_view_failed", create.Error,
			"tenant_id", view.TenantID,
			"view_name", string(view.ViewName),
			"view_key", view.Key,
		)
	}
	return nil
}

func (r *Repository) GetReadView(ctx context.Context, tenantID string, name entities.ViewName, key string) (entities.ReadView, error) {
	var row readViewModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND view_name = ? AND view_key = ?", tenantID, string(name), key).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ReadView{}, domainerrors.ErrReadViewNotFound
		}
		return entities.ReadView{}, r.logError("ledger_repo_get_read_view_failed", err,
			"tenant_id", tenantID,
			"view_name", string(name),
			"view_key", key,
		)
	}
	view, err := row.toEntity()
	if err != nil {
		return entities.ReadView{}, r.logError("ledger_repo_decode_read_view_failed", err, "view_name", string(name))
	}
	return view, nil
}

func (r *Repository) CreateNotification(ctx context.Context, notification entities.Notification) (bool, error) {
	row := notificationModel{
		ID:          notification.ID,
		TenantID:    notification.TenantID,
		RecipientID: notification.RecipientID,
		EventID:     notification.EventID,
		Kind:        notification.Kind,
		EntityType:  notification.EntityType,
		EntityID:    notification.EntityID,
		Message:     notification.Message,
		CreatedAt:   notification.CreatedAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("ledger_repo_create_notification_failed", create.Error,
			"notification_id", notification.ID,
			"event_id", notification.EventID,
		)
	}
	return create.RowsAffected > 0, nil
}

// dueScope selects claimable rows whose next attempt has arrived, plus
// PROCESSING rows whose claim is older than staleBefore.
func dueScope(now time.Time, staleBefore time.Time) func(*gorm.DB) *gorm.DB {
	claimable := []string{string(entities.WorkStatusPending), string(entities.WorkStatusFailed)}
	nowMS := now.UTC().UnixMilli()
	return func(db *gorm.DB) *gorm.DB {
		if staleBefore.IsZero() {
			return db.Where("status IN ? AND next_attempt_at_ms <= ?", claimable, nowMS)
		}
		return db.Where(
			"((status IN ? AND next_attempt_at_ms <= ?) OR (status = ? AND claimed_at_ms IS NOT NULL AND claimed_at_ms < ?))",
			claimable, nowMS, string(entities.WorkStatusProcessing), staleBefore.UTC().UnixMilli(),
		)
	}
}

func (r *Repository) claimWork(ctx context.Context, model any, id string, now time.Time, staleBefore time.Time) (bool, error) {
	now = now.UTC()
	update := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", strings.TrimSpace(id)).
		Scopes(dueScope(now, staleBefore)).
		Updates(map[string]any{
			"status":        string(entities.WorkStatusProcessing),
			"attempts":      gorm.Expr("attempts + 1"),
			"claimed_at_ms": now.UnixMilli(),
			"updated_at":    now,
		})
	if update.Error != nil {
		return false, update.Error
	}
	return update.RowsAffected == 1, nil
}

func (r *Repository) completeWork(ctx context.Context, model any, notFound error, event string, id string, now time.Time) error {
	update := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", strings.TrimSpace(id)).
		Updates(map[string]any{
			"status":        string(entities.WorkStatusDone),
			"claimed_at_ms": nil,
			"last_error":    "",
			"updated_at":    now.UTC(),
		})
	if update.Error != nil {
		return r.logError(event, update.Error, "id", id)
	}
	if update.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func (r *Repository) retryWork(ctx context.Context, model any, notFound error, event string, input ports.RetryInput) error {
	status := entities.WorkStatusFailed
	if input.Dead {
		status = entities.WorkStatusDead
	}
	update := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", strings.TrimSpace(input.ID)).
		Updates(map[string]any{
			"status":             string(status),
			"next_attempt_at_ms": input.NextAttemptAt.UTC().UnixMilli(),
			"last_error":         input.LastError,
			"claimed_at_ms":      nil,
			"updated_at":         input.Now.UTC(),
		})
	if update.Error != nil {
		return r.logError(event, update.Error, "id", input.ID, "dead", input.Dead)
	}
	if update.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func (r *Repository) requeueWork(ctx context.Context, model any, notFound error, event string, id string, now time.Time) error {
	now = now.UTC()
	update := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND status = ?", strings.TrimSpace(id), string(entities.WorkStatusDead)).
		Updates(map[string]any{
			"status":             string(entities.WorkStatusPending),
			"attempts":           0,
			"next_attempt_at_ms": now.UnixMilli(),
			"updated_at":         now,
		})
	if update.Error != nil {
		return r.logError(event, update.Error, "id", id)
	}
	if update.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where("id = ?", strings.TrimSpace(id)).Count(&count).Error; err != nil {
		return r.logError(event, err, "id", id)
	}
	if count == 0 {
		return notFound
	}
	return domainerrors.ErrNotDead
}

var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.DeliveryReceiptStore = (*Repository)(nil)
var _ ports.WorkQueueRepository = (*Repository)(nil)
var _ ports.ReadViewStore = (*Repository)(nil)
var _ ports.NotificationStore = (*Repository)(nil)
