package services

import (
	"fmt"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

var managedFields = map[entities.EntityType][]string{
	entities.EntityTypeTransaction: {
		entities.TransactionStateField,
		"submittedBy", "submittedAt",
		"approvedBy", "approvedAt",
		"rejectedBy", "rejectedAt", "rejectionReason",
	},
	entities.EntityTypeMember: {"role", "roleAssignedBy", "roleAssignedAt"},
}

// ManagedFields lists fields owned by workflow operations rather than generic writes.
func ManagedFields(entityType entities.EntityType) []string {
	return managedFields[entityType]
}

// ValidateClientFields rejects metadata keys and workflow-managed fields.
// A member's role may be provided on creation only.
func ValidateClientFields(entityType entities.EntityType, fields map[string]any, creating bool) error {
	for name := range fields {
		if entities.IsMetadataField(name) {
			return fmt.Errorf("%w: %s", domainerrors.ErrReservedField, name)
		}
		for _, managed := range managedFields[entityType] {
			if name != managed {
				continue
			}
			if creating && entityType == entities.EntityTypeMember && name == "role" {
				continue
			}
			return fmt.Errorf("%w: %s", domainerrors.ErrReservedField, name)
		}
	}
	return nil
}

// CheckExpectedVersion enforces the optimistic concurrency contract:
// a missing document accepts nil or 0; an existing one requires an exact match.
func CheckExpectedVersion(current *entities.Document, expected *int64) error {
	if current == nil {
		if expected != nil && *expected != 0 {
			return domainerrors.NewVersionConflict(*expected, 0)
		}
		return nil
	}
	if expected == nil {
		return domainerrors.ErrExpectedVersionRequired
	}
	if *expected != current.Version {
		return domainerrors.NewVersionConflict(*expected, current.Version)
	}
	return nil
}

// WriteRequest is the store-independent description of one document write.
// Defaults are applied on create only and never override Fields.
type WriteRequest struct {
	Key      entities.DocumentKey
	Fields   map[string]any
	Defaults map[string]any
	Mode     entities.WriteMode
	ActorID  string
	Now      time.Time
}

// NextDocument derives the post-write document. The version is always
// computed from the stored one: 1 on create, stored+1 on update.
func NextDocument(current *entities.Document, req WriteRequest) (entities.Document, error) {
	now := req.Now.UTC()
	if current == nil {
		fields := entities.CloneFields(req.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		for name, value := range entities.CloneFields(req.Defaults) {
			if _, ok := fields[name]; !ok {
				fields[name] = value
			}
		}
		return entities.Document{
			Key:       req.Key,
			Version:   1,
			CreatedAt: now,
			CreatedBy: req.ActorID,
			UpdatedAt: now,
			UpdatedBy: req.ActorID,
			Fields:    fields,
		}, nil
	}

	next := current.Clone()
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}
	switch req.Mode {
	case entities.WriteModeMerge:
		for name, value := range entities.CloneFields(req.Fields) {
			next.Fields[name] = value
		}
	case entities.WriteModeReplace:
		replaced := entities.CloneFields(req.Fields)
		if replaced == nil {
			replaced = map[string]any{}
		}
		for _, managed := range managedFields[req.Key.EntityType] {
			if value, ok := next.Fields[managed]; ok {
				if _, overridden := replaced[managed]; !overridden {
					replaced[managed] = value
				}
			}
		}
		next.Fields = replaced
	default:
		return entities.Document{}, domainerrors.ErrInvalidWriteMode
	}
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.UpdatedBy = req.ActorID
	return next, nil
}
