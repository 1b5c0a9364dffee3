package services

import (
	"errors"
	"testing"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

func TestCheckExpectedVersion(t *testing.T) {
	zero, one, two := int64(0), int64(1), int64(2)
	current := &entities.Document{Version: 1}

	if err := CheckExpectedVersion(nil, nil); err != nil {
		t.Fatalf("create without version should pass: %v", err)
	}
	if err := CheckExpectedVersion(nil, &zero); err != nil {
		t.Fatalf("create at version 0 should pass: %v", err)
	}
	if err := CheckExpectedVersion(current, &one); err != nil {
		t.Fatalf("matching version should pass: %v", err)
	}
	if err := CheckExpectedVersion(current, nil); !errors.Is(err, domainerrors.ErrExpectedVersionRequired) {
		t.Fatalf("expected version required, got %v", err)
	}

	err := CheckExpectedVersion(current, &two)
	var conflict *domainerrors.VersionConflictError
	if !errors.As(err, &conflict) || conflict.Expected != 2 || conflict.Actual != 1 {
		t.Fatalf("expected version conflict 2/1, got %v", err)
	}
	if !errors.Is(err, domainerrors.ErrVersionConflict) {
		t.Fatalf("conflict should match the sentinel")
	}
}

func TestValidateClientFieldsRejectsManagedFields(t *testing.T) {
	err := ValidateClientFields(entities.EntityTypeTransaction, map[string]any{"state": "APPROVED"}, false)
	if !errors.Is(err, domainerrors.ErrReservedField) {
		t.Fatalf("expected reserved field for state, got %v", err)
	}
	if err := ValidateClientFields(entities.EntityTypeMember, map[string]any{"role": "viewer"}, true); err != nil {
		t.Fatalf("member role on create should pass: %v", err)
	}
	if err := ValidateClientFields(entities.EntityTypeMember, map[string]any{"role": "owner"}, false); !errors.Is(err, domainerrors.ErrReservedField) {
		t.Fatalf("member role on update must go through role change, got %v", err)
	}
}
