package services

import (
	"fmt"
	"strings"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

var transactionTransitions = map[entities.TransactionState][]entities.TransactionState{
	entities.TransactionStateDraft:     {entities.TransactionStateSubmitted},
	entities.TransactionStateSubmitted: {entities.TransactionStateApproved, entities.TransactionStateRejected},
	entities.TransactionStateRejected:  {entities.TransactionStateSubmitted},
	entities.TransactionStateApproved:  nil,
}

func CanTransition(from entities.TransactionState, to entities.TransactionState) bool {
	for _, allowed := range transactionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks the table and the rejection-reason rule.
func ValidateTransition(from entities.TransactionState, to entities.TransactionState, reason string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domainerrors.ErrInvalidTransition, from, to)
	}
	if to == entities.TransactionStateRejected && strings.TrimSpace(reason) == "" {
		return domainerrors.ErrRejectionReasonRequired
	}
	return nil
}

// RequiredTransitionPermission names the permission needed to move into state to.
func RequiredTransitionPermission(to entities.TransactionState) string {
	switch to {
	case entities.TransactionStateApproved, entities.TransactionStateRejected:
		return entities.PermissionTransactionApprove
	default:
		return entities.PermissionTransactionSubmit
	}
}

// TransitionFields are the workflow fields written alongside the new state.
func TransitionFields(to entities.TransactionState, actorID string, reason string, now time.Time) map[string]any {
	stamp := now.UTC().Format(time.RFC3339Nano)
	fields := map[string]any{entities.TransactionStateField: string(to)}
	switch to {
	case entities.TransactionStateSubmitted:
		fields["submittedBy"] = actorID
		fields["submittedAt"] = stamp
		fields["rejectionReason"] = nil
	case entities.TransactionStateApproved:
		fields["approvedBy"] = actorID
		fields["approvedAt"] = stamp
	case entities.TransactionStateRejected:
		fields["rejectedBy"] = actorID
		fields["rejectedAt"] = stamp
		fields["rejectionReason"] = strings.TrimSpace(reason)
	}
	return fields
}
