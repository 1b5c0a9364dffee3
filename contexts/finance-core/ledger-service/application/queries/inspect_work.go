package queries

import (
	"context"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// InspectWorkUseCase exposes outbox and job rows as operational state.
type InspectWorkUseCase struct {
	Outbox ports.OutboxRepository
	Queue  ports.WorkQueueRepository
}

func (u InspectWorkUseCase) OutboxEvent(ctx context.Context, id string) (entities.OutboxEvent, error) {
	return u.Outbox.GetOutboxEvent(ctx, id)
}

func (u InspectWorkUseCase) Job(ctx context.Context, id string) (entities.Job, error) {
	return u.Queue.GetJob(ctx, id)
}
