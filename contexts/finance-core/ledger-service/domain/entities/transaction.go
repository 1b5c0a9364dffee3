package entities

import (
	"strings"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

// TransactionState is the approval workflow state stored in the transaction "state" field.
type TransactionState string

const (
	TransactionStateDraft     TransactionState = "DRAFT"
	TransactionStateSubmitted TransactionState = "SUBMITTED"
	TransactionStateApproved  TransactionState = "APPROVED"
	TransactionStateRejected  TransactionState = "REJECTED"
)

const TransactionStateField = "state"

func ParseTransactionState(raw string) (TransactionState, error) {
	switch state := TransactionState(strings.ToUpper(strings.TrimSpace(raw))); state {
	case TransactionStateDraft, TransactionStateSubmitted, TransactionStateApproved, TransactionStateRejected:
		return state, nil
	default:
		return "", domainerrors.ErrInvalidTransition
	}
}

// CurrentTransactionState reads the state field; documents written before the
// workflow existed are treated as drafts.
func CurrentTransactionState(doc Document) TransactionState {
	state, err := ParseTransactionState(doc.StringField(TransactionStateField))
	if err != nil {
		return TransactionStateDraft
	}
	return state
}
