package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"

	"github.com/google/uuid"
)

// Store is an in-memory adapter implementing every ledger port. A single
// mutex makes each operation one serializable transaction. It is intended
// for tests and local development wiring.
type Store struct {
	mu sync.Mutex

	documents     map[string]entities.Document
	idempotency   map[string]entities.IdempotencyRecord
	auditEntries  map[string][]entities.AuditEntry
	auditHeads    map[string]entities.AuditHead
	outbox        map[string]entities.OutboxEvent
	receipts      map[string]entities.DeliveryReceipt
	jobs          map[string]entities.Job
	readViews     map[string]entities.ReadView
	notifications map[string]entities.Notification
}

func NewStore() *Store {
	return &Store{
		documents:     map[string]entities.Document{},
		idempotency:   map[string]entities.IdempotencyRecord{},
		auditEntries:  map[string][]entities.AuditEntry{},
		auditHeads:    map[string]entities.AuditHead{},
		outbox:        map[string]entities.OutboxEvent{},
		receipts:      map[string]entities.DeliveryReceipt{},
		jobs:          map[string]entities.Job{},
		readViews:     map[string]entities.ReadView{},
		notifications: map[string]entities.Notification{},
	}
}

func (s *Store) UpsertDocument(_ context.Context, input ports.UpsertInput) (ports.UpsertResult, error) {
	if err := input.Key.Validate(); err != nil {
		return ports.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var before *entities.Document
	if current, ok := s.documents[input.Key.Path()]; ok {
		cloned := current.Clone()
		before = &cloned
	}
	if err := services.CheckExpectedVersion(before, input.ExpectedVersion); err != nil {
		return ports.UpsertResult{}, err
	}
	if input.Guard != nil {
		var guarded *entities.Document
		if before != nil {
			cloned := before.Clone()
			guarded = &cloned
		}
		if err := input.Guard(guarded); err != nil {
			return ports.UpsertResult{}, err
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
		return ports.UpsertResult{}, err
	}

	var event *entities.OutboxEvent
	if input.Outbox != nil {
		built, err := services.BuildOutboxEvent(*input.Outbox, before, after, input.Now)
		if err != nil {
			return ports.UpsertResult{}, err
		}
		if _, exists := s.outbox[built.ID]; exists {
			return ports.UpsertResult{}, domainerrors.ErrRepositoryInvariantBroke
		}
		event = &built
	}

	s.documents[input.Key.Path()] = after.Clone()
	if event != nil {
		s.outbox[event.ID] = cloneEvent(*event)
	}
	return ports.UpsertResult{
		Before:  before,
		After:   after.Clone(),
		Created: before == nil,
		Event:   event,
	}, nil
}

func (s *Store) GetDocument(_ context.Context, key entities.DocumentKey) (entities.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[key.Path()]
	if !ok {
		return entities.Document{}, domainerrors.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) ListDocuments(_ context.Context, tenantID string, entityType entities.EntityType) ([]entities.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.Document, 0)
	for _, doc := range s.documents {
		if doc.Key.TenantID == tenantID && doc.Key.EntityType == entityType {
			items = append(items, doc.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key.ID < items[j].Key.ID })
	return items, nil
}

func (s *Store) BeginIdempotency(_ context.Context, input ports.BeginInput) (ports.BeginResult, error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return ports.BeginResult{}, domainerrors.ErrMissingTenant
	}
	if strings.TrimSpace(input.Key) == "" {
		return ports.BeginResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := idempotencyID(input.TenantID, input.Key)
	var existing *entities.IdempotencyRecord
	if record, ok := s.idempotency[id]; ok {
		existing = &record
	}
	outcome := entities.BeginDecision(existing, input.Fingerprint, input.Now)
	if outcome != entities.BeginStarted {
		return ports.BeginResult{Outcome: outcome, Record: cloneRecord(*existing)}, nil
	}

	attempt := 1
	if existing != nil {
		attempt = existing.Attempt + 1
	}
	now := input.Now.UTC()
	record := entities.IdempotencyRecord{
		TenantID:           input.TenantID,
		Key:                input.Key,
		RequestFingerprint: input.Fingerprint,
		Status:             entities.IdempotencyStatusPending,
		ActorID:            input.ActorID,
		RequestID:          input.RequestID,
		Attempt:            attempt,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          input.PendingUntil.UTC(),
	}
	s.idempotency[id] = record
	return ports.BeginResult{Outcome: outcome, Record: cloneRecord(record)}, nil
}

func (s *Store) CompleteIdempotency(_ context.Context, outcome ports.IdempotencyOutcome) error {
	return s.finishIdempotency(outcome, entities.IdempotencyStatusCompleted)
}

func (s *Store) FailIdempotency(_ context.Context, outcome ports.IdempotencyOutcome) error {
	return s.finishIdempotency(outcome, entities.IdempotencyStatusFailed)
}

func (s *Store) finishIdempotency(outcome ports.IdempotencyOutcome, status entities.IdempotencyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idempotencyID(outcome.TenantID, outcome.Key)
	record, ok := s.idempotency[id]
	if !ok {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	record.Status = status
	record.ResponseStatus = outcome.ResponseStatus
	record.ResponseBody = append([]byte(nil), outcome.ResponseBody...)
	record.Retryable = status == entities.IdempotencyStatusFailed && outcome.Retryable
	record.UpdatedAt = outcome.Now.UTC()
	record.ExpiresAt = outcome.ExpiresAt.UTC()
	s.idempotency[id] = record
	return nil
}

func (s *Store) PurgeExpiredIdempotency(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, record := range s.idempotency {
		if limit > 0 && purged >= limit {
			break
		}
		if record.Expired(now) {
			delete(s.idempotency, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) AppendAudit(_ context.Context, input services.AuditAppend) (entities.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var head *entities.AuditHead
	if current, ok := s.auditHeads[input.TenantID]; ok {
		head = &current
	}
	entry, next, err := services.NextAuditEntry(head, input)
	if err != nil {
		return entities.AuditEntry{}, err
	}
	s.auditEntries[input.TenantID] = append(s.auditEntries[input.TenantID], cloneEntry(entry))
	s.auditHeads[input.TenantID] = next
	return cloneEntry(entry), nil
}

func (s *Store) ListAuditEntries(_ context.Context, tenantID string, afterSeq int64, limit int) ([]entities.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.AuditEntry, 0)
	for _, entry := range s.auditEntries[tenantID] {
		if afterSeq <= 0 || entry.ChainSeq > afterSeq {
			items = append(items, cloneEntry(entry))
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ChainSeq < items[j].ChainSeq })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) GetAuditHead(_ context.Context, tenantID string) (*entities.AuditHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.auditHeads[tenantID]
	if !ok {
		return nil, nil
	}
	return &head, nil
}

// MutateAuditEntry edits a stored entry in place, bypassing the chain. It
// exists so integrity checks can be exercised against a tampered ledger.
func (s *Store) MutateAuditEntry(tenantID string, entryID string, mutate func(entry *entities.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.auditEntries[tenantID]
	for i := range entries {
		if entries[i].ID == entryID {
			mutate(&entries[i])
			return true
		}
	}
	return false
}

func (s *Store) ListDueOutbox(_ context.Context, filter ports.WorkFilter) ([]entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.OutboxEvent, 0)
	for _, event := range s.outbox {
		if filter.TenantID != "" && event.TenantID != filter.TenantID {
			continue
		}
		if filter.EventID != "" && event.ID != filter.EventID {
			continue
		}
		if isDue(event.Status, event.NextAttemptAt, event.ClaimedAt, filter.Now, filter.StaleBefore) {
			items = append(items, cloneEvent(event))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].NextAttemptAt.Equal(items[j].NextAttemptAt) {
			return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
		}
		return items[i].ID < items[j].ID
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *Store) ClaimOutbox(_ context.Context, id string, now time.Time, staleBefore time.Time) (entities.OutboxEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.outbox[id]
	if !ok {
		return entities.OutboxEvent{}, false, domainerrors.ErrOutboxEventNotFound
	}
	if !isDue(event.Status, event.NextAttemptAt, event.ClaimedAt, now, staleBefore) {
		return cloneEvent(event), false, nil
	}
	claimedAt := now.UTC()
	event.Attempts++
	event.Status = entities.WorkStatusProcessing
	event.ClaimedAt = &claimedAt
	event.UpdatedAt = claimedAt
	s.outbox[id] = event
	return cloneEvent(event), true, nil
}

func (s *Store) CompleteOutbox(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.outbox[id]
	if !ok {
		return domainerrors.ErrOutboxEventNotFound
	}
	event.Status = entities.WorkStatusDone
	event.ClaimedAt = nil
	event.LastError = ""
	event.UpdatedAt = now.UTC()
	s.outbox[id] = event
	return nil
}

func (s *Store) RetryOutbox(_ context.Context, input ports.RetryInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.outbox[input.ID]
	if !ok {
		return domainerrors.ErrOutboxEventNotFound
	}
	event.Status = retryStatus(input.Dead)
	event.NextAttemptAt = input.NextAttemptAt.UTC()
	event.LastError = input.LastError
	event.ClaimedAt = nil
	event.UpdatedAt = input.Now.UTC()
	s.outbox[input.ID] = event
	return nil
}

func (s *Store) RequeueDeadOutbox(_ context.Context, id string, now time.Time) (entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.outbox[id]
	if !ok {
		return entities.OutboxEvent{}, domainerrors.ErrOutboxEventNotFound
	}
	if event.Status != entities.WorkStatusDead {
		return entities.OutboxEvent{}, domainerrors.ErrNotDead
	}
	event.Status = entities.WorkStatusPending
	event.Attempts = 0
	event.NextAttemptAt = now.UTC()
	event.UpdatedAt = now.UTC()
	s.outbox[id] = event
	return cloneEvent(event), nil
}

func (s *Store) GetOutboxEvent(_ context.Context, id string) (entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.outbox[id]
	if !ok {
		return entities.OutboxEvent{}, domainerrors.ErrOutboxEventNotFound
	}
	return cloneEvent(event), nil
}

// ListOutbox returns every outbox event of a tenant ordered by creation.
func (s *Store) ListOutbox(tenantID string) []entities.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.OutboxEvent, 0)
	for _, event := range s.outbox {
		if event.TenantID == tenantID {
			items = append(items, cloneEvent(event))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *Store) RecordDelivery(_ context.Context, receipt entities.DeliveryReceipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := receipt.EventID + "\x00" + receipt.Handler
	if _, exists := s.receipts[id]; exists {
		return false, nil
	}
	s.receipts[id] = receipt
	return true, nil
}

func (s *Store) EnqueueJob(_ context.Context, job entities.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return false, nil
	}
	s.jobs[job.ID] = cloneJob(job)
	return true, nil
}

func (s *Store) ListDueJobs(_ context.Context, filter ports.WorkFilter) ([]entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.Job, 0)
	for _, job := range s.jobs {
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.EventID != "" && job.EventID != filter.EventID {
			continue
		}
		if isDue(job.Status, job.NextAttemptAt, job.ClaimedAt, filter.Now, filter.StaleBefore) {
			items = append(items, cloneJob(job))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].NextAttemptAt.Equal(items[j].NextAttemptAt) {
			return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
		}
		return items[i].ID < items[j].ID
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *Store) ClaimJob(_ context.Context, id string, now time.Time, staleBefore time.Time) (entities.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return entities.Job{}, false, domainerrors.ErrJobNotFound
	}
	if !isDue(job.Status, job.NextAttemptAt, job.ClaimedAt, now, staleBefore) {
		return cloneJob(job), false, nil
	}
	claimedAt := now.UTC()
	job.Attempts++
	job.Status = entities.WorkStatusProcessing
	job.ClaimedAt = &claimedAt
	job.UpdatedAt = claimedAt
	s.jobs[id] = job
	return cloneJob(job), true, nil
}

func (s *Store) CompleteJob(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domainerrors.ErrJobNotFound
	}
	job.Status = entities.WorkStatusDone
	job.ClaimedAt = nil
	job.LastError = ""
	job.UpdatedAt = now.UTC()
	s.jobs[id] = job
	return nil
}

func (s *Store) RetryJob(_ context.Context, input ports.RetryInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[input.ID]
	if !ok {
		return domainerrors.ErrJobNotFound
	}
	job.Status = retryStatus(input.Dead)
	job.NextAttemptAt = input.NextAttemptAt.UTC()
	job.LastError = input.LastError
	job.ClaimedAt = nil
	job.UpdatedAt = input.Now.UTC()
	s.jobs[input.ID] = job
	return nil
}

func (s *Store) RequeueDeadJob(_ context.Context, id string, now time.Time) (entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return entities.Job{}, domainerrors.ErrJobNotFound
	}
	if job.Status != entities.WorkStatusDead {
		return entities.Job{}, domainerrors.ErrNotDead
	}
	job.Status = entities.WorkStatusPending
	job.Attempts = 0
	job.NextAttemptAt = now.UTC()
	job.UpdatedAt = now.UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *Store) GetJob(_ context.Context, id string) (entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return entities.Job{}, domainerrors.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns every job of a tenant ordered by id.
func (s *Store) ListJobs(tenantID string) []entities.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.Job, 0)
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			items = append(items, cloneJob(job))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Store) PutReadView(_ context.Context, view entities.ReadView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	view.Data = entities.CloneFields(view.Data)
	s.readViews[readViewID(view.TenantID, view.ViewName, view.Key)] = view
	return nil
}

func (s *Store) GetReadView(_ context.Context, tenantID string, name entities.ViewName, key string) (entities.ReadView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.readViews[readViewID(tenantID, name, key)]
	if !ok {
		return entities.ReadView{}, domainerrors.ErrReadViewNotFound
	}
	view.Data = entities.CloneFields(view.Data)
	return view, nil
}

func (s *Store) CreateNotification(_ context.Context, notification entities.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[notification.ID]; exists {
		return false, nil
	}
	s.notifications[notification.ID] = notification
	return true, nil
}

// ListNotifications returns a recipient's notifications ordered by id.
func (s *Store) ListNotifications(tenantID string, recipientID string) []entities.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.Notification, 0)
	for _, notification := range s.notifications {
		if notification.TenantID == tenantID && notification.RecipientID == recipientID {
			items = append(items, notification)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func isDue(status entities.WorkStatus, nextAttemptAt time.Time, claimedAt *time.Time, now time.Time, staleBefore time.Time) bool {
	if status.Claimable() {
		return !nextAttemptAt.After(now)
	}
	if status == entities.WorkStatusProcessing && claimedAt != nil && !staleBefore.IsZero() {
		return claimedAt.Before(staleBefore)
	}
	return false
}

func retryStatus(dead bool) entities.WorkStatus {
	if dead {
		return entities.WorkStatusDead
	}
	return entities.WorkStatusFailed
}

func idempotencyID(tenantID string, key string) string {
	return tenantID + "\x00" + key
}

func readViewID(tenantID string, name entities.ViewName, key string) string {
	return tenantID + "\x00" + string(name) + "\x00" + key
}

func cloneRecord(record entities.IdempotencyRecord) entities.IdempotencyRecord {
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return record
}

func cloneEntry(entry entities.AuditEntry) entities.AuditEntry {
	entry.Details = entities.CloneFields(entry.Details)
	entry.Metadata = entities.CloneFields(entry.Metadata)
	return entry
}

func cloneEvent(event entities.OutboxEvent) entities.OutboxEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	if event.ClaimedAt != nil {
		claimedAt := *event.ClaimedAt
		event.ClaimedAt = &claimedAt
	}
	return event
}

func cloneJob(job entities.Job) entities.Job {
	if job.ClaimedAt != nil {
		claimedAt := *job.ClaimedAt
		job.ClaimedAt = &claimedAt
	}
	return job
}

var _ ports.DocumentStore = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.AuditLedger = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.DeliveryReceiptStore = (*Store)(nil)
var _ ports.WorkQueueRepository = (*Store)(nil)
var _ ports.ReadViewStore = (*Store)(nil)
var _ ports.NotificationStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
