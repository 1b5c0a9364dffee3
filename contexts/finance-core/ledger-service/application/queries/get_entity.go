package queries

import (
	"context"
	"log/slog"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

type GetEntityQuery struct {
	TenantID   string
	EntityType string
	EntityID   string
}

type GetEntityUseCase struct {
	Documents ports.DocumentStore
	Logger    *slog.Logger
}

func (u GetEntityUseCase) Execute(ctx context.Context, query GetEntityQuery) (entities.Document, error) {
	entityType, err := entities.ParseEntityType(query.EntityType)
	if err != nil {
		return entities.Document{}, err
	}
	key := entities.DocumentKey{TenantID: query.TenantID, EntityType: entityType, ID: query.EntityID}
	if err := key.Validate(); err != nil {
		return entities.Document{}, err
	}
	doc, err := u.Documents.GetDocument(ctx, key)
	if err != nil {
		application.ResolveLogger(u.Logger).Debug("get entity failed",
			"event", "ledger_get_entity_failed",
			"module", application.Module,
			"layer", "application",
			"tenant_id", query.TenantID,
			"entity_type", query.EntityType,
			"entity_id", query.EntityID,
			"error", err.Error(),
		)
		return entities.Document{}, err
	}
	return doc, nil
}
