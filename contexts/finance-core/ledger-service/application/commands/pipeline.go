package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// Mutation is the transport-agnostic context of one mutating request.
// Method, Path and Body are the exact inputs of the request fingerprint.
type Mutation struct {
	TenantID       string
	ActorID        string
	ActorRole      string
	IdempotencyKey string
	RequestID      string
	Method         string
	Path           string
	Body           []byte
}

// Response is what a mutation answered with. Replays carry the stored bytes.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// MutationResult is the success body of every document mutation.
type MutationResult struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`
	State      string    `json:"state,omitempty"`
	Role       string    `json:"role,omitempty"`
	EventID    string    `json:"eventId,omitempty"`
	AuditID    string    `json:"auditId,omitempty"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
	ActualVersion   *int64 `json:"actualVersion,omitempty"`
}

// Pipeline runs mutations as begin idempotency, execute, then complete or fail.
// Execution is expected to upsert with its outbox event and append the audit entry.
type Pipeline struct {
	Idempotency    ports.IdempotencyStore
	Audit          ports.AuditLedger
	PII            ports.PIIProtector
	Clock          ports.Clock
	IDGenerator    ports.IDGenerator
	Policy         entities.RolePolicy
	Observer       ports.PipelineObserver
	IdempotencyTTL time.Duration
	PendingTTL     time.Duration
	Logger         *slog.Logger
}

type mutationFunc func(ctx context.Context, now time.Time) (int, any, error)

// committedError marks a failure raised after the document write committed.
// Such failures are never retryable under the same idempotency key.
type committedError struct {
	err error
}

func (e committedError) Error() string { return e.err.Error() }

func (e committedError) Unwrap() error { return e.err }

func afterCommit(err error) error {
	if err == nil {
		return nil
	}
	return committedError{err: err}
}

// retryable reports whether a failed attempt may run again under its key.
func retryable(err error) bool {
	var committed committedError
	if errors.As(err, &committed) {
		return false
	}
	return domainerrors.IsRetryable(err)
}

// Run executes fn at most once per (tenant, idempotency key) and fingerprint.
func (p Pipeline) Run(ctx context.Context, operation string, m Mutation, fn mutationFunc) (Response, error) {
	logger := application.ResolveLogger(p.Logger)
	observer := application.ResolveObserver(p.Observer)

	if strings.TrimSpace(m.IdempotencyKey) == "" {
		return Response{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return Response{}, domainerrors.ErrMissingTenant
	}
	if strings.TrimSpace(m.ActorID) == "" {
		return Response{}, domainerrors.ErrMissingActor
	}

	now := p.now()
	began, err := p.Idempotency.BeginIdempotency(ctx, ports.BeginInput{
		TenantID:     m.TenantID,
		Key:          m.IdempotencyKey,
		Fingerprint:  services.RequestFingerprint(m.Method, m.Path, m.Body),
		ActorID:      m.ActorID,
		RequestID:    m.RequestID,
		Now:          now,
		PendingUntil: now.Add(p.pendingTTL()),
	})
	if err != nil {
		logger.Error("idempotency begin failed",
			"event", "ledger_idempotency_begin_failed",
			"module", application.Module,
			"layer", "application",
			"operation", operation,
			"tenant_id", m.TenantID,
			"error", err.Error(),
		)
		return Response{}, err
	}
	observer.ObserveIdempotency(string(began.Outcome))

	switch began.Outcome {
	case entities.BeginReplay:
		logger.Info("mutation replayed",
			"event", "ledger_mutation_replayed",
			"module", application.Module,
			"layer", "application",
			"operation", operation,
			"tenant_id", m.TenantID,
			"request_id", m.RequestID,
		)
		return Response{
			Status:   began.Record.ResponseStatus,
			Body:     append([]byte(nil), began.Record.ResponseBody...),
			Replayed: true,
		}, nil
	case entities.BeginConflict:
		return Response{}, domainerrors.ErrIdempotencyConflict
	case entities.BeginInProgress:
		return Response{}, domainerrors.ErrIdempotencyInProgress
	}

	status, result, err := fn(ctx, now)
	if err == nil {
		body, encodeErr := json.Marshal(result)
		if encodeErr == nil {
			if completeErr := p.Idempotency.CompleteIdempotency(ctx, ports.IdempotencyOutcome{
				TenantID:       m.TenantID,
				Key:            m.IdempotencyKey,
				ResponseStatus: status,
				ResponseBody:   body,
				Now:            p.now(),
				ExpiresAt:      p.now().Add(p.idempotencyTTL()),
			}); completeErr != nil {
				// The write is committed. If the completion stays lost, the
				// pending record expires after PendingTTL and a retry re-executes.
				logger.Warn("idempotency complete failed",
					"event", "ledger_idempotency_complete_failed",
					"module", application.Module,
					"layer", "application",
					"operation", operation,
					"tenant_id", m.TenantID,
					"error", completeErr.Error(),
				)
			}
			logger.Info("mutation completed",
				"event", "ledger_mutation_completed",
				"module", application.Module,
				"layer", "application",
				"operation", operation,
				"tenant_id", m.TenantID,
				"request_id", m.RequestID,
				"status", status,
			)
			return Response{Status: status, Body: body}, nil
		}
		err = afterCommit(encodeErr)
	}

	errStatus, errBody := ErrorResponse(err)
	if failErr := p.Idempotency.FailIdempotency(ctx, ports.IdempotencyOutcome{
		TenantID:       m.TenantID,
		Key:            m.IdempotencyKey,
		ResponseStatus: errStatus,
		ResponseBody:   errBody,
		Retryable:      retryable(err),
		Now:            p.now(),
		ExpiresAt:      p.now().Add(p.idempotencyTTL()),
	}); failErr != nil {
		logger.Error("idempotency fail record failed",
			"event", "ledger_idempotency_fail_failed",
			"module", application.Module,
			"layer", "application",
			"operation", operation,
			"tenant_id", m.TenantID,
			"error", failErr.Error(),
		)
	}
	logger.Warn("mutation failed",
		"event", "ledger_mutation_failed",
		"module", application.Module,
		"layer", "application",
		"operation", operation,
		"tenant_id", m.TenantID,
		"request_id", m.RequestID,
		"code", domainerrors.Classify(err).Code,
		"error", err.Error(),
	)
	return Response{Status: errStatus, Body: errBody}, err
}

func (p Pipeline) requirePermission(m Mutation, permission string) error {
	if !p.Policy.HasPermission(m.ActorRole, permission) {
		return fmt.Errorf("%w: role %q lacks %s", domainerrors.ErrForbidden, m.ActorRole, permission)
	}
	return nil
}

func (p Pipeline) newID(ctx context.Context) (string, error) {
	return p.IDGenerator.NewID(ctx)
}

// appendAudit records a committed write on the tenant chain. Failures are
// reported as ErrAuditAppendFailed since the write itself cannot be undone.
func (p Pipeline) appendAudit(
	ctx context.Context,
	m Mutation,
	result ports.UpsertResult,
	details map[string]any,
	now time.Time,
) (entities.AuditEntry, error) {
	if p.PII == nil {
		return entities.AuditEntry{}, afterCommit(fmt.Errorf("%w: %w", domainerrors.ErrAuditAppendFailed, domainerrors.ErrPIIProtection))
	}
	actorRef, err := p.PII.Protect(ctx, m.TenantID, m.ActorID)
	if err != nil {
		return entities.AuditEntry{}, afterCommit(fmt.Errorf("%w: %w", domainerrors.ErrAuditAppendFailed, err))
	}
	auditID, err := p.newID(ctx)
	if err != nil {
		return entities.AuditEntry{}, afterCommit(fmt.Errorf("%w: %w", domainerrors.ErrAuditAppendFailed, err))
	}

	action := entities.EntityEventType(result.After.Key.EntityType, result.Created)
	metadata := map[string]any{
		"method": m.Method,
		"path":   m.Path,
	}
	if result.Event != nil {
		action = result.Event.EventType
		metadata["eventId"] = result.Event.ID
	}
	if details == nil {
		details = map[string]any{}
	}
	details["version"] = result.After.Version
	details["created"] = result.Created

	entry, err := p.Audit.AppendAudit(ctx, services.AuditAppend{
		ID:         auditID,
		TenantID:   m.TenantID,
		EntityType: string(result.After.Key.EntityType),
		EntityID:   result.After.Key.ID,
		Action:     action,
		Actor:      entities.ActorRef{Ref: actorRef, Role: m.ActorRole},
		RequestID:  m.RequestID,
		Details:    details,
		Metadata:   metadata,
		Timestamp:  now,
	})
	if err != nil {
		return entities.AuditEntry{}, afterCommit(fmt.Errorf("%w: %w", domainerrors.ErrAuditAppendFailed, err))
	}
	return entry, nil
}

func (p Pipeline) idempotencyTTL() time.Duration {
	if p.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return p.IdempotencyTTL
}

func (p Pipeline) pendingTTL() time.Duration {
	if p.PendingTTL <= 0 {
		return time.Minute
	}
	return p.PendingTTL
}

func (p Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func mutationResult(result ports.UpsertResult, entry entities.AuditEntry) MutationResult {
	out := MutationResult{
		ID:         result.After.Key.ID,
		EntityType: string(result.After.Key.EntityType),
		Version:    result.After.Version,
		UpdatedAt:  result.After.UpdatedAt,
		AuditID:    entry.ID,
	}
	switch result.After.Key.EntityType {
	case entities.EntityTypeTransaction:
		out.State = string(entities.CurrentTransactionState(result.After))
	case entities.EntityTypeMember:
		out.Role = result.After.StringField("role")
	}
	if result.Event != nil {
		out.EventID = result.Event.ID
	}
	return out
}

func successStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func sortedKeys(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, key)
	}
	return out
}

var errorStatuses = map[string]int{
	"invalid_request":               http.StatusBadRequest,
	"unsupported_entity_type":       http.StatusBadRequest,
	"reserved_field":                http.StatusBadRequest,
	"expected_version_required":     http.StatusBadRequest,
	"rejection_reason_required":     http.StatusBadRequest,
	"invalid_write_mode":            http.StatusBadRequest,
	"missing_tenant":                http.StatusBadRequest,
	"missing_actor":                 http.StatusUnauthorized,
	"unknown_role":                  http.StatusBadRequest,
	"idempotency_key_required":      http.StatusBadRequest,
	"unknown_read_view":             http.StatusBadRequest,
	"forbidden":                     http.StatusForbidden,
	"role_not_assignable":           http.StatusForbidden,
	"document_not_found":            http.StatusNotFound,
	"outbox_event_not_found":        http.StatusNotFound,
	"job_not_found":                 http.StatusNotFound,
	"read_view_not_found":           http.StatusNotFound,
	"invalid_transition":            http.StatusConflict,
	"not_dead":                      http.StatusConflict,
	"version_conflict":              http.StatusConflict,
	"idempotency_conflict":          http.StatusConflict,
	"idempotency_in_progress":       http.StatusConflict,
	"audit_chain_broken":            http.StatusInternalServerError,
	"audit_append_failed":           http.StatusInternalServerError,
	"unknown_event_type":            http.StatusInternalServerError,
	"invalid_role_policy":           http.StatusInternalServerError,
	"repository_invariant_violated": http.StatusInternalServerError,
	"pii_protection_failed":         http.StatusInternalServerError,
}

// ErrorStatus maps a classified error onto its HTTP status.
func ErrorStatus(err error) int {
	if status, ok := errorStatuses[domainerrors.Classify(err).Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse renders the status and body stored for, and replayed after,
// a failed mutation. Infrastructure details never reach the body.
func ErrorResponse(err error) (int, []byte) {
	classification := domainerrors.Classify(err)
	body := ErrorBody{Code: classification.Code, Message: err.Error()}
	if classification.Category == domainerrors.CategoryInfrastructure || classification.Category == domainerrors.CategoryIntegrity {
		body.Message = "internal error"
	}
	var conflict *domainerrors.VersionConflictError
	if errors.As(err, &conflict) {
		expected, actual := conflict.Expected, conflict.Actual
		body.ExpectedVersion = &expected
		body.ActualVersion = &actual
	}
	encoded, encodeErr := json.Marshal(body)
	if encodeErr != nil {
		encoded = []byte(`{"code":"internal_error","message":"internal error"}`)
	}
	return ErrorStatus(err), encoded
}
