package postgresadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var repoNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(context.Background(), db))
	return NewRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func projectKey(id string) entities.DocumentKey {
	return entities.DocumentKey{TenantID: "tenant-1", EntityType: entities.EntityTypeProject, ID: id}
}

func version(v int64) *int64 {
	return &v
}

func upsertProject(t *testing.T, repo *Repository, id string, expected int64, fields map[string]any, eventID string) ports.UpsertResult {
	t.Helper()
	result, err := repo.UpsertDocument(context.Background(), ports.UpsertInput{
		Key:             projectKey(id),
		Fields:          fields,
		ExpectedVersion: version(expected),
		Mode:            entities.WriteModeMerge,
		ActorID:         "owner-1",
		Now:             repoNow,
		Outbox:          &services.OutboxSpec{ID: eventID, ActorID: "owner-1", RequestID: "req-" + eventID},
	})
	require.NoError(t, err)
	return result
}

func TestUpsertDocumentVersioning(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created := upsertProject(t, repo, "p-1", 0, map[string]any{"name": "Roof", "budgetCents": 1000}, "evt-1")
	require.True(t, created.Created)
	require.Nil(t, created.Before)
	require.EqualValues(t, 1, created.After.Version)
	require.NotNil(t, created.Event)
	require.Equal(t, "project.created", created.Event.EventType)

	updated := upsertProject(t, repo, "p-1", 1, map[string]any{"name": "Roof repair"}, "evt-2")
	require.False(t, updated.Created)
	require.NotNil(t, updated.Before)
	require.EqualValues(t, 1, updated.Before.Version)
	require.EqualValues(t, 2, updated.After.Version)
	require.Equal(t, "Roof repair", updated.After.Fields["name"])
	require.EqualValues(t, 1000, updated.After.Fields["budgetCents"])

	_, err := repo.UpsertDocument(ctx, ports.UpsertInput{
		Key:             projectKey("p-1"),
		Fields:          map[string]any{"name": "stale"},
		ExpectedVersion: version(1),
		Mode:            entities.WriteModeMerge,
		ActorID:         "owner-1",
		Now:             repoNow,
		Outbox:          &services.OutboxSpec{ID: "evt-3"},
	})
	var conflict *domainerrors.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.EqualValues(t, 1, conflict.Expected)
	require.EqualValues(t, 2, conflict.Actual)

	stored, err := repo.GetDocument(ctx, projectKey("p-1"))
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Version)
	require.Equal(t, "Roof repair", stored.Fields["name"])

	_, err = repo.GetOutboxEvent(ctx, "evt-3")
	require.ErrorIs(t, err, domainerrors.ErrOutboxEventNotFound)

	_, err = repo.GetDocument(ctx, projectKey("missing"))
	require.ErrorIs(t, err, domainerrors.ErrDocumentNotFound)

	docs, err := repo.ListDocuments(ctx, "tenant-1", entities.EntityTypeProject)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestUpsertDocumentGuardAbortsWrite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	upsertProject(t, repo, "p-1", 0, map[string]any{"name": "Roof"}, "evt-1")

	blocked := errors.New("blocked")
	_, err := repo.UpsertDocument(ctx, ports.UpsertInput{
		Key:             projectKey("p-1"),
		Fields:          map[string]any{"name": "guarded"},
		ExpectedVersion: version(1),
		Mode:            entities.WriteModeMerge,
		ActorID:         "owner-1",
		Now:             repoNow,
		Guard: func(before *entities.Document) error {
			require.NotNil(t, before)
			before.Fields["name"] = "mutated by guard"
			return blocked
		},
		Outbox: &services.OutboxSpec{ID: "evt-2"},
	})
	require.ErrorIs(t, err, blocked)

	stored, err := repo.GetDocument(ctx, projectKey("p-1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.Version)
	require.Equal(t, "Roof", stored.Fields["name"])

	due, err := repo.ListDueOutbox(ctx, ports.WorkFilter{TenantID: "tenant-1", Now: repoNow})
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "evt-1", due[0].ID)
}

func TestIdempotencyLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	begin := ports.BeginInput{
		TenantID:     "tenant-1",
		Key:          "key-1",
		Fingerprint:  "fp-a",
		ActorID:      "owner-1",
		RequestID:    "req-1",
		Now:          repoNow,
		PendingUntil: repoNow.Add(time.Minute),
	}

	started, err := repo.BeginIdempotency(ctx, begin)
	require.NoError(t, err)
	require.Equal(t, entities.BeginStarted, started.Outcome)
	require.Equal(t, 1, started.Record.Attempt)

	again, err := repo.BeginIdempotency(ctx, begin)
	require.NoError(t, err)
	require.Equal(t, entities.BeginInProgress, again.Outcome)

	require.NoError(t, repo.CompleteIdempotency(ctx, ports.IdempotencyOutcome{
		TenantID:       "tenant-1",
		Key:            "key-1",
		ResponseStatus: 201,
		ResponseBody:   []byte(`{"id":"p-1"}`),
		Now:            repoNow,
		ExpiresAt:      repoNow.Add(24 * time.Hour),
	}))

	replay, err := repo.BeginIdempotency(ctx, begin)
	require.NoError(t, err)
	require.Equal(t, entities.BeginReplay, replay.Outcome)
	require.Equal(t, 201, replay.Record.ResponseStatus)
	require.Equal(t, `{"id":"p-1"}`, string(replay.Record.ResponseBody))

	other := begin
	other.Fingerprint = "fp-b"
	conflict, err := repo.BeginIdempotency(ctx, other)
	require.NoError(t, err)
	require.Equal(t, entities.BeginConflict, conflict.Outcome)

	purged, err := repo.PurgeExpiredIdempotency(ctx, repoNow.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 0, purged)

	purged, err = repo.PurgeExpiredIdempotency(ctx, repoNow.Add(25*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	restarted, err := repo.BeginIdempotency(ctx, other)
	require.NoError(t, err)
	require.Equal(t, entities.BeginStarted, restarted.Outcome)
	require.Equal(t, 1, restarted.Record.Attempt)

	_, err = repo.BeginIdempotency(ctx, ports.BeginInput{TenantID: "tenant-1", Now: repoNow})
	require.ErrorIs(t, err, domainerrors.ErrIdempotencyKeyRequired)
}

func TestIdempotencyAbandonedPendingRestarts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	begin := ports.BeginInput{
		TenantID:     "tenant-1",
		Key:          "key-1",
		Fingerprint:  "fp-a",
		Now:          repoNow,
		PendingUntil: repoNow.Add(time.Minute),
	}
	_, err := repo.BeginIdempotency(ctx, begin)
	require.NoError(t, err)

	later := begin
	later.Now = repoNow.Add(2 * time.Minute)
	later.PendingUntil = later.Now.Add(time.Minute)
	result, err := repo.BeginIdempotency(ctx, later)
	require.NoError(t, err)
	require.Equal(t, entities.BeginStarted, result.Outcome)
	require.Equal(t, 2, result.Record.Attempt)
}

func TestAppendAuditLinksChain(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	head, err := repo.GetAuditHead(ctx, "tenant-1")
	require.NoError(t, err)
	require.Nil(t, head)

	var appended []entities.AuditEntry
	for i, id := range []string{"audit-1", "audit-2", "audit-3"} {
		entry, err := repo.AppendAudit(ctx, services.AuditAppend{
			ID:         id,
			TenantID:   "tenant-1",
			EntityType: "project",
			EntityID:   "p-1",
			Action:     "project.updated",
			Actor:      entities.ActorRef{Ref: "actor-ref", Role: "owner"},
			Details:    map[string]any{"step": i},
			Timestamp:  repoNow.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		appended = append(appended, entry)
	}
	require.Empty(t, appended[0].PrevHash)
	require.Equal(t, appended[0].Hash, appended[1].PrevHash)
	require.Equal(t, appended[1].Hash, appended[2].PrevHash)
	require.EqualValues(t, 3, appended[2].ChainSeq)

	head, err = repo.GetAuditHead(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	require.EqualValues(t, 3, head.LastSeq)
	require.Equal(t, appended[2].Hash, head.LastHash)

	page, err := repo.ListAuditEntries(ctx, "tenant-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "audit-2", page[0].ID)
	require.Equal(t, appended[1].Hash, page[0].Hash)
	require.True(t, appended[1].Timestamp.Equal(page[0].Timestamp))

	recomputed, err := services.AuditEntryHash(page[0])
	require.NoError(t, err)
	require.Equal(t, page[0].Hash, recomputed)

	other, err := repo.AppendAudit(ctx, services.AuditAppend{
		ID:        "audit-other",
		TenantID:  "tenant-2",
		Action:    "project.created",
		Timestamp: repoNow,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, other.ChainSeq)
	require.Empty(t, other.PrevHash)
}

func TestUpsertDocumentWithoutExpectedVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.UpsertDocument(ctx, ports.UpsertInput{
		Key:     projectKey("p-nil"),
		Fields:  map[string]any{"name": "Roof"},
		Mode:    entities.WriteModeMerge,
		ActorID: "owner-1",
		Now:     repoNow,
	})
	require.NoError(t, err)
	require.True(t, created.Created)

	_, err = repo.UpsertDocument(ctx, ports.UpsertInput{
		Key:     projectKey("p-nil"),
		Fields:  map[string]any{"name": "Roof again"},
		Mode:    entities.WriteModeMerge,
		ActorID: "owner-1",
		Now:     repoNow,
	})
	require.ErrorIs(t, err, domainerrors.ErrExpectedVersionRequired)
}

func TestListAuditEntriesKeepsNonPositiveSequences(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	for i, id := range []string{"audit-1", "audit-2", "audit-3"} {
		_, err := repo.AppendAudit(ctx, services.AuditAppend{
			ID:        id,
			TenantID:  "tenant-1",
			Action:    "ledger.created",
			Timestamp: repoNow.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	require.NoError(t, repo.db.Model(&auditEntryModel{}).Where("id = ?", "audit-2").Update("chain_seq", 0).Error)

	page, err := repo.ListAuditEntries(ctx, "tenant-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "audit-2", page[0].ID)

	verifier := services.NewChainVerifier()
	for _, entry := range page {
		if !verifier.Check(entry) {
			break
		}
	}
	result := verifier.Result()
	require.False(t, result.OK)
	require.Equal(t, "audit-2", result.BrokenAtID)
	require.Equal(t, entities.ReasonMissingOrInvalidChainSeq, result.Reason)

	after, err := repo.ListAuditEntries(ctx, "tenant-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "audit-3", after[0].ID)
}

func TestOutboxClaimRetryRequeue(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	upsertProject(t, repo, "p-1", 0, map[string]any{"name": "Roof"}, "evt-1")

	event, claimed, err := repo.ClaimOutbox(ctx, "evt-1", repoNow, time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, entities.WorkStatusProcessing, event.Status)
	require.Equal(t, 1, event.Attempts)

	_, claimed, err = repo.ClaimOutbox(ctx, "evt-1", repoNow, time.Time{})
	require.NoError(t, err)
	require.False(t, claimed)

	stale, err := repo.ListDueOutbox(ctx, ports.WorkFilter{Now: repoNow.Add(10 * time.Minute), StaleBefore: repoNow.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, repo.RetryOutbox(ctx, ports.RetryInput{
		ID:            "evt-1",
		LastError:     "boom",
		NextAttemptAt: repoNow.Add(2 * time.Second),
		Now:           repoNow,
	}))
	due, err := repo.ListDueOutbox(ctx, ports.WorkFilter{Now: repoNow.Add(time.Second)})
	require.NoError(t, err)
	require.Empty(t, due)
	due, err = repo.ListDueOutbox(ctx, ports.WorkFilter{Now: repoNow.Add(2 * time.Second)})
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, entities.WorkStatusFailed, due[0].Status)
	require.Equal(t, "boom", due[0].LastError)

	_, err = repo.RequeueDeadOutbox(ctx, "evt-1", repoNow)
	require.ErrorIs(t, err, domainerrors.ErrNotDead)

	require.NoError(t, repo.RetryOutbox(ctx, ports.RetryInput{ID: "evt-1", LastError: "boom", Dead: true, Now: repoNow}))
	dead, err := repo.GetOutboxEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, entities.WorkStatusDead, dead.Status)

	requeued, err := repo.RequeueDeadOutbox(ctx, "evt-1", repoNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, entities.WorkStatusPending, requeued.Status)
	require.Equal(t, 0, requeued.Attempts)

	_, claimed, err = repo.ClaimOutbox(ctx, "evt-1", repoNow.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.CompleteOutbox(ctx, "evt-1", repoNow.Add(time.Hour)))
	done, err := repo.GetOutboxEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, entities.WorkStatusDone, done.Status)
	require.Nil(t, done.ClaimedAt)

	_, err = repo.RequeueDeadOutbox(ctx, "missing", repoNow)
	require.ErrorIs(t, err, domainerrors.ErrOutboxEventNotFound)
	require.ErrorIs(t, repo.CompleteOutbox(ctx, "missing", repoNow), domainerrors.ErrOutboxEventNotFound)
}

func TestJobsDeduplicateOnDeterministicID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	job, err := entities.NewJob("tenant-1", "evt-1", entities.ViewProjectFinancials, "p-1", "", repoNow)
	require.NoError(t, err)
	inserted, err := repo.EnqueueJob(ctx, job)
	require.NoError(t, err)
	require.True(t, inserted)

	duplicate, err := entities.NewJob("tenant-1", "evt-1", entities.ViewProjectFinancials, "p-1", "", repoNow.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, job.ID, duplicate.ID)
	inserted, err = repo.EnqueueJob(ctx, duplicate)
	require.NoError(t, err)
	require.False(t, inserted)

	due, err := repo.ListDueJobs(ctx, ports.WorkFilter{EventID: "evt-1", Now: repoNow})
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimedJob, claimed, err := repo.ClaimJob(ctx, job.ID, repoNow, time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, 1, claimedJob.Attempts)
	require.NoError(t, repo.CompleteJob(ctx, job.ID, repoNow))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, entities.WorkStatusDone, stored.Status)
	require.Equal(t, entities.ViewProjectFinancials, stored.ViewName)

	_, err = repo.GetJob(ctx, "missing")
	require.ErrorIs(t, err, domainerrors.ErrJobNotFound)
}

func TestReadViewOverwrite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	view := entities.ReadView{
		TenantID:      "tenant-1",
		ViewName:      entities.ViewProjectFinancials,
		Key:           "p-1",
		Data:          map[string]any{"approvedAmountCents": 100},
		SourceEventID: "evt-1",
		SourceJobID:   "job-1",
		RebuiltAt:     repoNow,
	}
	require.NoError(t, repo.PutReadView(ctx, view))

	view.Data = map[string]any{"approvedAmountCents": 250}
	view.SourceEventID = "evt-2"
	require.NoError(t, repo.PutReadView(ctx, view))

	stored, err := repo.GetReadView(ctx, "tenant-1", entities.ViewProjectFinancials, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 250, stored.Data["approvedAmountCents"])
	require.Equal(t, "evt-2", stored.SourceEventID)

	_, err = repo.GetReadView(ctx, "tenant-1", entities.ViewApprovalInbox, entities.TenantWideViewKey)
	require.ErrorIs(t, err, domainerrors.ErrReadViewNotFound)
}

func TestDeliveryReceiptsAndNotificationsAreCreateOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	receipt := entities.DeliveryReceipt{EventID: "evt-1", Handler: "fanout", TenantID: "tenant-1", DeliveredAt: repoNow}
	first, err := repo.RecordDelivery(ctx, receipt)
	require.NoError(t, err)
	require.True(t, first)
	second, err := repo.RecordDelivery(ctx, receipt)
	require.NoError(t, err)
	require.False(t, second)

	otherHandler := receipt
	otherHandler.Handler = "projection"
	third, err := repo.RecordDelivery(ctx, otherHandler)
	require.NoError(t, err)
	require.True(t, third)

	notification := entities.Notification{
		ID:          "evt-1:approver-1",
		TenantID:    "tenant-1",
		RecipientID: "approver-1",
		EventID:     "evt-1",
		Kind:        "awaiting_approval",
		EntityType:  "transaction",
		EntityID:    "tx-1",
		Message:     "transaction tx-1 awaits approval",
		CreatedAt:   repoNow,
	}
	created, err := repo.CreateNotification(ctx, notification)
	require.NoError(t, err)
	require.True(t, created)
	created, err = repo.CreateNotification(ctx, notification)
	require.NoError(t, err)
	require.False(t, created)
}
