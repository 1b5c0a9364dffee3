package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/application/commands"
	"ledgerflow/contexts/finance-core/ledger-service/application/queries"
	"ledgerflow/contexts/finance-core/ledger-service/application/workers"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/transport/http"
)

// Caller is the authenticated identity of one request.
type Caller struct {
	TenantID  string
	ActorID   string
	Role      string
	RequestID string
}

// MutationRequest carries the raw request inputs of a mutating call. Body is
// kept verbatim because it is part of the idempotency fingerprint.
type MutationRequest struct {
	Caller         Caller
	IdempotencyKey string
	Method         string
	Path           string
	Body           []byte
}

func (r MutationRequest) mutation() commands.Mutation {
	return commands.Mutation{
		TenantID:       r.Caller.TenantID,
		ActorID:        r.Caller.ActorID,
		ActorRole:      r.Caller.Role,
		IdempotencyKey: r.IdempotencyKey,
		RequestID:      r.Caller.RequestID,
		Method:         r.Method,
		Path:           r.Path,
		Body:           r.Body,
	}
}

// Handler maps HTTP DTOs to application commands/queries.
type Handler struct {
	UpsertEntity  commands.UpsertEntityUseCase
	Transition    commands.TransitionTransactionUseCase
	ChangeRole    commands.ChangeMemberRoleUseCase
	RebuildView   commands.RebuildReadViewUseCase
	RequeueOutbox commands.RequeueOutboxUseCase
	RequeueJob    commands.RequeueJobUseCase
	GetEntity     queries.GetEntityUseCase
	GetReadView   queries.GetReadViewUseCase
	VerifyAudit   queries.VerifyAuditChainUseCase
	Inspect       queries.InspectWorkUseCase
	Relay         workers.OutboxRelay
	Jobs          workers.JobRunner
	Logger        *slog.Logger
}

func (h Handler) CreateEntityHandler(ctx context.Context, req MutationRequest, entityType string) (commands.Response, error) {
	var body httptransport.CreateEntityRequest
	if err := decodeMutation(req, &body); err != nil {
		return commands.Response{}, err
	}
	return h.UpsertEntity.Execute(ctx, commands.UpsertEntityCommand{
		Mutation:   req.mutation(),
		EntityType: entityType,
		EntityID:   body.ID,
		Create:     true,
		Fields:     body.Fields,
		Mode:       body.Mode,
	})
}

func (h Handler) UpdateEntityHandler(ctx context.Context, req MutationRequest, entityType string, entityID string) (commands.Response, error) {
	var body httptransport.UpdateEntityRequest
	if err := decodeMutation(req, &body); err != nil {
		return commands.Response{}, err
	}
	return h.UpsertEntity.Execute(ctx, commands.UpsertEntityCommand{
		Mutation:        req.mutation(),
		EntityType:      entityType,
		EntityID:        entityID,
		ExpectedVersion: body.ExpectedVersion,
		Fields:          body.Fields,
		Mode:            body.Mode,
	})
}

func (h Handler) TransitionHandler(ctx context.Context, req MutationRequest, transactionID string) (commands.Response, error) {
	var body httptransport.TransitionRequest
	if err := decodeMutation(req, &body); err != nil {
		return commands.Response{}, err
	}
	return h.Transition.Execute(ctx, commands.TransitionTransactionCommand{
		Mutation:        req.mutation(),
		TransactionID:   transactionID,
		NewState:        body.NewState,
		ExpectedVersion: body.ExpectedVersion,
		Reason:          body.Reason,
	})
}

func (h Handler) ChangeRoleHandler(ctx context.Context, req MutationRequest, memberID string) (commands.Response, error) {
	var body httptransport.ChangeRoleRequest
	if err := decodeMutation(req, &body); err != nil {
		return commands.Response{}, err
	}
	return h.ChangeRole.Execute(ctx, commands.ChangeMemberRoleCommand{
		Mutation:        req.mutation(),
		MemberID:        memberID,
		Role:            body.Role,
		ExpectedVersion: body.ExpectedVersion,
	})
}

func (h Handler) RebuildReadViewHandler(ctx context.Context, req MutationRequest, viewName string) (commands.Response, error) {
	var body httptransport.RebuildReadViewRequest
	if err := decodeMutation(req, &body); err != nil {
		return commands.Response{}, err
	}
	return h.RebuildView.Execute(ctx, commands.RebuildReadViewCommand{
		Mutation: req.mutation(),
		ViewName: viewName,
		Key:      body.Key,
		Replay:   body.Replay,
	})
}

func (h Handler) GetEntityHandler(ctx context.Context, caller Caller, entityType string, entityID string) (httptransport.DocumentResponse, error) {
	doc, err := h.GetEntity.Execute(ctx, queries.GetEntityQuery{
		TenantID:   caller.TenantID,
		EntityType: entityType,
		EntityID:   entityID,
	})
	if err != nil {
		return httptransport.DocumentResponse{}, err
	}
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return httptransport.DocumentResponse{
		ID:         doc.Key.ID,
		EntityType: string(doc.Key.EntityType),
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		CreatedBy:  doc.CreatedBy,
		UpdatedAt:  doc.UpdatedAt,
		UpdatedBy:  doc.UpdatedBy,
		Fields:     fields,
	}, nil
}

func (h Handler) GetReadViewHandler(ctx context.Context, caller Caller, viewName string, key string) (httptransport.ReadViewResponse, error) {
	view, err := h.GetReadView.Execute(ctx, caller.TenantID, viewName, key)
	if err != nil {
		return httptransport.ReadViewResponse{}, err
	}
	return httptransport.ReadViewResponse{
		ViewName:      string(view.ViewName),
		Key:           view.Key,
		Data:          view.Data,
		SourceEventID: view.SourceEventID,
		SourceJobID:   view.SourceJobID,
		RebuiltAt:     view.RebuiltAt,
	}, nil
}

func (h Handler) VerifyAuditHandler(ctx context.Context, caller Caller, limit int) (httptransport.VerifyAuditResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	result, err := h.VerifyAudit.Execute(ctx, queries.VerifyAuditChainQuery{
		TenantID:  caller.TenantID,
		ActorRole: caller.Role,
		Limit:     limit,
	})
	if err != nil {
		logger.Error("http audit verify failed",
			"event", "ledger_http_audit_verify_failed",
			"module", application.Module,
			"layer", "transport",
			"tenant_id", caller.TenantID,
			"error", err.Error(),
		)
		return httptransport.VerifyAuditResponse{}, err
	}
	resp := httptransport.VerifyAuditResponse{
		OK:         result.OK,
		Checked:    result.Checked,
		LastHash:   result.LastHash,
		BrokenAtID: result.BrokenAtID,
		Reason:     string(result.Reason),
	}
	if result.Checked > 0 || result.LastSeq > 0 {
		lastSeq := result.LastSeq
		resp.LastSeq = &lastSeq
	}
	return resp, nil
}

func (h Handler) RunOutboxHandler(ctx context.Context, req httptransport.WorkerRunRequest) (httptransport.WorkerRunResponse, error) {
	counters, err := h.Relay.RunOnce(ctx, workers.Filter{TenantID: req.TenantID, EventID: req.EventID})
	if err != nil {
		return httptransport.WorkerRunResponse{}, err
	}
	return runResponse(counters), nil
}

func (h Handler) RunJobsHandler(ctx context.Context, req httptransport.WorkerRunRequest) (httptransport.WorkerRunResponse, error) {
	counters, err := h.Jobs.RunOnce(ctx, workers.Filter{TenantID: req.TenantID, EventID: req.EventID})
	if err != nil {
		return httptransport.WorkerRunResponse{}, err
	}
	return runResponse(counters), nil
}

func (h Handler) RequeueOutboxHandler(ctx context.Context, eventID string) (httptransport.OutboxEventResponse, error) {
	event, err := h.RequeueOutbox.Execute(ctx, eventID)
	if err != nil {
		return httptransport.OutboxEventResponse{}, err
	}
	return outboxResponse(event), nil
}

func (h Handler) RequeueJobHandler(ctx context.Context, jobID string) (httptransport.JobResponse, error) {
	job, err := h.RequeueJob.Execute(ctx, jobID)
	if err != nil {
		return httptransport.JobResponse{}, err
	}
	return jobResponse(job), nil
}

func (h Handler) GetOutboxEventHandler(ctx context.Context, eventID string) (httptransport.OutboxEventResponse, error) {
	event, err := h.Inspect.OutboxEvent(ctx, eventID)
	if err != nil {
		return httptransport.OutboxEventResponse{}, err
	}
	return outboxResponse(event), nil
}

func (h Handler) GetJobHandler(ctx context.Context, jobID string) (httptransport.JobResponse, error) {
	job, err := h.Inspect.Job(ctx, jobID)
	if err != nil {
		return httptransport.JobResponse{}, err
	}
	return jobResponse(job), nil
}

// decodeMutation rejects a missing idempotency key before the body is
// looked at. Numbers decode as json.Number so amounts keep their exact value.
func decodeMutation(req MutationRequest, dst any) error {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return domainerrors.ErrIdempotencyKeyRequired
	}
	if len(bytes.TrimSpace(req.Body)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Body))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrInvalidRequest, err)
	}
	return nil
}

func runResponse(counters entities.RunCounters) httptransport.WorkerRunResponse {
	return httptransport.WorkerRunResponse{
		Processed: counters.Processed,
		Succeeded: counters.Succeeded,
		Failed:    counters.Failed,
		Dead:      counters.Dead,
		Scanned:   counters.Scanned,
	}
}

func outboxResponse(event entities.OutboxEvent) httptransport.OutboxEventResponse {
	return httptransport.OutboxEventResponse{
		ID:            event.ID,
		TenantID:      event.TenantID,
		EventType:     event.EventType,
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		Status:        string(event.Status),
		Attempts:      event.Attempts,
		NextAttemptAt: event.NextAttemptAt,
		ClaimedAt:     event.ClaimedAt,
		LastError:     event.LastError,
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.UpdatedAt,
	}
}

func jobResponse(job entities.Job) httptransport.JobResponse {
	return httptransport.JobResponse{
		ID:            job.ID,
		TenantID:      job.TenantID,
		EventID:       job.EventID,
		ViewName:      string(job.ViewName),
		ViewKey:       job.ViewKey,
		DedupeKey:     job.DedupeKey,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		NextAttemptAt: job.NextAttemptAt,
		ClaimedAt:     job.ClaimedAt,
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}
