package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// UpsertEntityCommand creates (Create=true) or updates one document.
type UpsertEntityCommand struct {
	Mutation        Mutation
	EntityType      string
	EntityID        string
	Create          bool
	ExpectedVersion *int64
	Fields          map[string]any
	Mode            string
}

// UpsertEntityUseCase is the generic versioned write for every entity type.
type UpsertEntityUseCase struct {
	Pipeline  Pipeline
	Documents ports.DocumentStore
	Logger    *slog.Logger
}

func (u UpsertEntityUseCase) Execute(ctx context.Context, cmd UpsertEntityCommand) (Response, error) {
	logger := application.ResolveLogger(u.Logger)
	logger.Debug("upsert entity started",
		"event", "ledger_upsert_entity_started",
		"module", application.Module,
		"layer", "application",
		"tenant_id", cmd.Mutation.TenantID,
		"entity_type", cmd.EntityType,
		"entity_id", cmd.EntityID,
	)

	return u.Pipeline.Run(ctx, "upsert_entity", cmd.Mutation, func(ctx context.Context, now time.Time) (int, any, error) {
		entityType, err := entities.ParseEntityType(cmd.EntityType)
		if err != nil {
			return 0, nil, err
		}
		if err := u.Pipeline.requirePermission(cmd.Mutation, entities.PermissionEntityWrite); err != nil {
			return 0, nil, err
		}
		mode, err := entities.ParseWriteMode(cmd.Mode)
		if err != nil {
			return 0, nil, err
		}
		if err := services.ValidateClientFields(entityType, cmd.Fields, cmd.Create); err != nil {
			return 0, nil, err
		}

		entityID := strings.TrimSpace(cmd.EntityID)
		if cmd.Create && entityID == "" {
			if entityID, err = u.Pipeline.newID(ctx); err != nil {
				return 0, nil, err
			}
		}
		key := entities.DocumentKey{TenantID: cmd.Mutation.TenantID, EntityType: entityType, ID: entityID}
		if err := key.Validate(); err != nil {
			return 0, nil, err
		}

		// nil on create: an existing id fails as expected_version_required.
		if cmd.ExpectedVersion == nil && !cmd.Create {
			return 0, nil, domainerrors.ErrExpectedVersionRequired
		}

		fields := entities.CloneFields(cmd.Fields)
		defaults, err := u.createDefaults(cmd, entityType, fields, now)
		if err != nil {
			return 0, nil, err
		}

		eventID, err := u.Pipeline.newID(ctx)
		if err != nil {
			return 0, nil, err
		}
		result, err := u.Documents.UpsertDocument(ctx, ports.UpsertInput{
			Key:             key,
			Fields:          fields,
			Defaults:        defaults,
			ExpectedVersion: cmd.ExpectedVersion,
			Mode:            mode,
			ActorID:         cmd.Mutation.ActorID,
			Now:             now,
			Outbox: &services.OutboxSpec{
				ID:        eventID,
				ActorID:   cmd.Mutation.ActorID,
				RequestID: cmd.Mutation.RequestID,
			},
		})
		if err != nil {
			return 0, nil, err
		}

		entry, err := u.Pipeline.appendAudit(ctx, cmd.Mutation, result, map[string]any{
			"mode":          string(mode),
			"changedFields": sortedKeys(cmd.Fields),
		}, now)
		if err != nil {
			return 0, nil, err
		}
		return successStatus(result.Created), mutationResult(result, entry), nil
	})
}

// createDefaults seeds workflow fields on create. A member created with a
// role is checked against the role-change rules like any later assignment.
func (u UpsertEntityUseCase) createDefaults(
	cmd UpsertEntityCommand,
	entityType entities.EntityType,
	fields map[string]any,
	now time.Time,
) (map[string]any, error) {
	switch entityType {
	case entities.EntityTypeTransaction:
		return map[string]any{entities.TransactionStateField: string(entities.TransactionStateDraft)}, nil
	case entities.EntityTypeMember:
		raw, ok := fields["role"]
		if !ok || !cmd.Create {
			return nil, nil
		}
		role, _ := raw.(string)
		if !u.Pipeline.Policy.HasRole(role) {
			return nil, fmt.Errorf("%w: %q", domainerrors.ErrUnknownRole, role)
		}
		if !u.Pipeline.Policy.CanActorAssignRole(cmd.Mutation.ActorRole, role) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", domainerrors.ErrRoleNotAssignable, cmd.Mutation.ActorRole, role)
		}
		return map[string]any{
			"roleAssignedBy": cmd.Mutation.ActorID,
			"roleAssignedAt": now.Format(time.RFC3339Nano),
		}, nil
	default:
		return nil, nil
	}
}
