package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// RequeueOutboxUseCase moves a DEAD outbox event back to PENDING with its
// attempt counter reset. It is an operator action behind the worker secret.
type RequeueOutboxUseCase struct {
	Outbox ports.OutboxRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (u RequeueOutboxUseCase) Execute(ctx context.Context, eventID string) (entities.OutboxEvent, error) {
	logger := application.ResolveLogger(u.Logger)
	if strings.TrimSpace(eventID) == "" {
		return entities.OutboxEvent{}, domainerrors.ErrInvalidRequest
	}
	event, err := u.Outbox.RequeueDeadOutbox(ctx, eventID, now(u.Clock))
	if err != nil {
		return entities.OutboxEvent{}, err
	}
	logger.Info("outbox event requeued",
		"event", "ledger_outbox_requeued",
		"module", application.Module,
		"layer", "application",
		"outbox_id", event.ID,
		"tenant_id", event.TenantID,
	)
	return event, nil
}

type RequeueJobUseCase struct {
	Queue  ports.WorkQueueRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (u RequeueJobUseCase) Execute(ctx context.Context, jobID string) (entities.Job, error) {
	logger := application.ResolveLogger(u.Logger)
	if strings.TrimSpace(jobID) == "" {
		return entities.Job{}, domainerrors.ErrInvalidRequest
	}
	job, err := u.Queue.RequeueDeadJob(ctx, jobID, now(u.Clock))
	if err != nil {
		return entities.Job{}, err
	}
	logger.Info("job requeued",
		"event", "ledger_job_requeued",
		"module", application.Module,
		"layer", "application",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
	)
	return job, nil
}

func now(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}
