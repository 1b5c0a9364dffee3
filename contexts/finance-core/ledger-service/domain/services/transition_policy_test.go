package services

import (
	"errors"
	"testing"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

func TestTransactionTransitionTable(t *testing.T) {
	allowed := [][2]entities.TransactionState{
		{entities.TransactionStateDraft, entities.TransactionStateSubmitted},
		{entities.TransactionStateSubmitted, entities.TransactionStateApproved},
		{entities.TransactionStateSubmitted, entities.TransactionStateRejected},
		{entities.TransactionStateRejected, entities.TransactionStateSubmitted},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]entities.TransactionState{
		{entities.TransactionStateDraft, entities.TransactionStateApproved},
		{entities.TransactionStateApproved, entities.TransactionStateSubmitted},
		{entities.TransactionStateApproved, entities.TransactionStateRejected},
		{entities.TransactionStateRejected, entities.TransactionStateApproved},
		{entities.TransactionStateSubmitted, entities.TransactionStateSubmitted},
	}
	for _, pair := range denied {
		if err := ValidateTransition(pair[0], pair[1], "reason"); !errors.Is(err, domainerrors.ErrInvalidTransition) {
			t.Fatalf("expected %s -> %s to be invalid, got %v", pair[0], pair[1], err)
		}
	}
}

func TestRejectionRequiresReason(t *testing.T) {
	err := ValidateTransition(entities.TransactionStateSubmitted, entities.TransactionStateRejected, "  ")
	if !errors.Is(err, domainerrors.ErrRejectionReasonRequired) {
		t.Fatalf("expected rejection reason error, got %v", err)
	}
}

func TestResubmitClearsRejectionReason(t *testing.T) {
	fields := TransitionFields(entities.TransactionStateSubmitted, "user-1", "", fixedNow)
	value, ok := fields["rejectionReason"]
	if !ok || value != nil {
		t.Fatalf("expected rejectionReason cleared, got %v", fields)
	}
	if RequiredTransitionPermission(entities.TransactionStateApproved) != entities.PermissionTransactionApprove {
		t.Fatalf("approval must require the approve permission")
	}
}
