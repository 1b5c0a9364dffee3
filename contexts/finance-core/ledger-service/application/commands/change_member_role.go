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

type ChangeMemberRoleCommand struct {
	Mutation        Mutation
	MemberID        string
	Role            string
	ExpectedVersion *int64
}

// ChangeMemberRoleUseCase applies the role policy before any write: the
// actor must be allowed to assign both the new role and the member's current one.
type ChangeMemberRoleUseCase struct {
	Pipeline  Pipeline
	Documents ports.DocumentStore
	Logger    *slog.Logger
}

func (u ChangeMemberRoleUseCase) Execute(ctx context.Context, cmd ChangeMemberRoleCommand) (Response, error) {
	logger := application.ResolveLogger(u.Logger)
	logger.Debug("member role change started",
		"event", "ledger_member_role_started",
		"module", application.Module,
		"layer", "application",
		"tenant_id", cmd.Mutation.TenantID,
		"member_id", cmd.MemberID,
		"role", cmd.Role,
	)

	return u.Pipeline.Run(ctx, "change_member_role", cmd.Mutation, func(ctx context.Context, now time.Time) (int, any, error) {
		policy := u.Pipeline.Policy
		role := strings.TrimSpace(cmd.Role)
		if !policy.HasRole(role) {
			return 0, nil, fmt.Errorf("%w: %q", domainerrors.ErrUnknownRole, role)
		}
		if err := u.Pipeline.requirePermission(cmd.Mutation, entities.PermissionMemberManage); err != nil {
			return 0, nil, err
		}
		if !policy.CanActorAssignRole(cmd.Mutation.ActorRole, role) {
			return 0, nil, fmt.Errorf("%w: %s cannot assign %s", domainerrors.ErrRoleNotAssignable, cmd.Mutation.ActorRole, role)
		}
		if cmd.ExpectedVersion == nil {
			return 0, nil, domainerrors.ErrExpectedVersionRequired
		}
		key := entities.DocumentKey{
			TenantID:   cmd.Mutation.TenantID,
			EntityType: entities.EntityTypeMember,
			ID:         cmd.MemberID,
		}
		if err := key.Validate(); err != nil {
			return 0, nil, err
		}
		if _, err := u.Documents.GetDocument(ctx, key); err != nil {
			return 0, nil, err
		}

		previous := ""
		eventID, err := u.Pipeline.newID(ctx)
		if err != nil {
			return 0, nil, err
		}
		result, err := u.Documents.UpsertDocument(ctx, ports.UpsertInput{
			Key: key,
			Fields: map[string]any{
				"role":           role,
				"roleAssignedBy": cmd.Mutation.ActorID,
				"roleAssignedAt": now.Format(time.RFC3339Nano),
			},
			ExpectedVersion: cmd.ExpectedVersion,
			Mode:            entities.WriteModeMerge,
			ActorID:         cmd.Mutation.ActorID,
			Now:             now,
			Guard: func(before *entities.Document) error {
				if before == nil {
					return domainerrors.ErrDocumentNotFound
				}
				previous = before.StringField("role")
				if previous != "" && !policy.CanActorAssignRole(cmd.Mutation.ActorRole, previous) {
					return fmt.Errorf("%w: %s cannot reassign a %s", domainerrors.ErrRoleNotAssignable, cmd.Mutation.ActorRole, previous)
				}
				return nil
			},
			Outbox: &services.OutboxSpec{
				ID:        eventID,
				EventType: entities.EventTypeMemberRoleChanged,
				ActorID:   cmd.Mutation.ActorID,
				RequestID: cmd.Mutation.RequestID,
			},
		})
		if err != nil {
			return 0, nil, err
		}

		entry, err := u.Pipeline.appendAudit(ctx, cmd.Mutation, result, map[string]any{
			"previousRole": previous,
			"role":         role,
		}, now)
		if err != nil {
			return 0, nil, err
		}
		return successStatus(false), mutationResult(result, entry), nil
	})
}
