package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	application "ledgerflow/contexts/finance-core/ledger-service/application"
	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/domain/services"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// TransitionTransactionCommand moves one transaction through the approval workflow.
type TransitionTransactionCommand struct {
	Mutation        Mutation
	TransactionID   string
	NewState        string
	ExpectedVersion *int64
	Reason          string
}

type TransitionTransactionUseCase struct {
	Pipeline  Pipeline
	Documents ports.DocumentStore
	Logger    *slog.Logger
}

// Execute validates the transition against the stored state inside the write
// transaction, so concurrent transitions at the same version have one winner.
func (u TransitionTransactionUseCase) Execute(ctx context.Context, cmd TransitionTransactionCommand) (Response, error) {
	logger := application.ResolveLogger(u.Logger)
	logger.Debug("transaction transition started",
		"event", "ledger_transition_started",
		"module", application.Module,
		"layer", "application",
		"tenant_id", cmd.Mutation.TenantID,
		"transaction_id", cmd.TransactionID,
		"new_state", cmd.NewState,
	)

	return u.Pipeline.Run(ctx, "transition_transaction", cmd.Mutation, func(ctx context.Context, now time.Time) (int, any, error) {
		to, err := entities.ParseTransactionState(cmd.NewState)
		if err != nil {
			return 0, nil, err
		}
		if err := u.Pipeline.requirePermission(cmd.Mutation, services.RequiredTransitionPermission(to)); err != nil {
			return 0, nil, err
		}
		if cmd.ExpectedVersion == nil {
			return 0, nil, domainerrors.ErrExpectedVersionRequired
		}
		key := entities.DocumentKey{
			TenantID:   cmd.Mutation.TenantID,
			EntityType: entities.EntityTypeTransaction,
			ID:         cmd.TransactionID,
		}
		if err := key.Validate(); err != nil {
			return 0, nil, err
		}
		if _, err := u.Documents.GetDocument(ctx, key); err != nil {
			return 0, nil, err
		}

		var from entities.TransactionState
		eventID, err := u.Pipeline.newID(ctx)
		if err != nil {
			return 0, nil, err
		}
		result, err := u.Documents.UpsertDocument(ctx, ports.UpsertInput{
			Key:             key,
			Fields:          services.TransitionFields(to, cmd.Mutation.ActorID, cmd.Reason, now),
			ExpectedVersion: cmd.ExpectedVersion,
			Mode:            entities.WriteModeMerge,
			ActorID:         cmd.Mutation.ActorID,
			Now:             now,
			Guard: func(before *entities.Document) error {
				if before == nil {
					return domainerrors.ErrDocumentNotFound
				}
				from = entities.CurrentTransactionState(*before)
				return services.ValidateTransition(from, to, cmd.Reason)
			},
			Outbox: &services.OutboxSpec{
				ID:        eventID,
				EventType: entities.EventTypeTransactionStateChange,
				ActorID:   cmd.Mutation.ActorID,
				RequestID: cmd.Mutation.RequestID,
				ToState:   string(to),
				Reason:    cmd.Reason,
			},
		})
		if err != nil {
			return 0, nil, err
		}

		details := map[string]any{
			"fromState": string(from),
			"toState":   string(to),
		}
		if to == entities.TransactionStateRejected {
			details["reason"] = cmd.Reason
		}
		entry, err := u.Pipeline.appendAudit(ctx, cmd.Mutation, result, details, now)
		if err != nil {
			return 0, nil, err
		}
		logger.Info("transaction transitioned",
			"event", "ledger_transition_completed",
			"module", application.Module,
			"layer", "application",
			"tenant_id", cmd.Mutation.TenantID,
			"transaction_id", cmd.TransactionID,
			"transition", fmt.Sprintf("%s->%s", from, to),
			"version", result.After.Version,
		)
		return successStatus(false), mutationResult(result, entry), nil
	})
}
