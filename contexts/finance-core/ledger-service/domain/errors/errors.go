package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUnsupportedEntityType   = errors.New("unsupported entity type")
	ErrReservedField           = errors.New("field is managed by the ledger and cannot be written")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrExpectedVersionRequired = errors.New("expected version is required when updating an existing document")
	ErrVersionConflict         = errors.New("version conflict")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrRejectionReasonRequired = errors.New("rejection requires a reason")
	ErrInvalidWriteMode        = errors.New("write mode must be merge or replace")

	ErrMissingTenant          = errors.New("tenant id is required")
	ErrMissingActor           = errors.New("actor id is required")
	ErrForbidden              = errors.New("forbidden")
	ErrRoleNotAssignable      = errors.New("actor role cannot assign target role")
	ErrUnknownRole            = errors.New("unknown role")
	ErrInvalidRolePolicy      = errors.New("invalid role policy")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with different request")
	ErrIdempotencyInProgress  = errors.New("request with this idempotency key is still in progress")

	ErrOutboxEventNotFound = errors.New("outbox event not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrNotDead             = errors.New("item is not dead-lettered")
	ErrUnknownReadView     = errors.New("unknown read view")
	ErrReadViewNotFound    = errors.New("read view not found")
	ErrUnknownEventType    = errors.New("unknown event type")

	ErrAuditChainBroken         = errors.New("audit chain integrity check failed")
	ErrAuditAppendFailed        = errors.New("audit append failed after commit")
	ErrRepositoryInvariantBroke = errors.New("repository invariant violated")
	ErrPIIProtection            = errors.New("pii protection failed")
)

// VersionConflictError reports both sides of a failed expected-version check.
type VersionConflictError struct {
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NewVersionConflict builds a conflict error carrying the expected and stored versions.
func NewVersionConflict(expected int64, actual int64) error {
	return &VersionConflictError{Expected: expected, Actual: actual}
}

// Category groups errors by how callers are expected to react.
type Category string

const (
	CategoryClient         Category = "client"
	CategoryConcurrency    Category = "concurrency"
	CategoryInfrastructure Category = "infrastructure"
	CategoryIntegrity      Category = "integrity"
)

// Classification is the stable machine-readable identity of an error.
type Classification struct {
	Code     string
	Category Category
}

var classifications = []struct {
	err  error
	code string
	cat  Category
}{
	{ErrInvalidRequest, "invalid_request", CategoryClient},
	{ErrUnsupportedEntityType, "unsupported_entity_type", CategoryClient},
	{ErrReservedField, "reserved_field", CategoryClient},
	{ErrDocumentNotFound, "document_not_found", CategoryClient},
	{ErrExpectedVersionRequired, "expected_version_required", CategoryClient},
	{ErrInvalidTransition, "invalid_transition", CategoryClient},
	{ErrRejectionReasonRequired, "rejection_reason_required", CategoryClient},
	{ErrInvalidWriteMode, "invalid_write_mode", CategoryClient},
	{ErrMissingTenant, "missing_tenant", CategoryClient},
	{ErrMissingActor, "missing_actor", CategoryClient},
	{ErrForbidden, "forbidden", CategoryClient},
	{ErrRoleNotAssignable, "role_not_assignable", CategoryClient},
	{ErrUnknownRole, "unknown_role", CategoryClient},
	{ErrIdempotencyKeyRequired, "idempotency_key_required", CategoryClient},
	{ErrOutboxEventNotFound, "outbox_event_not_found", CategoryClient},
	{ErrJobNotFound, "job_not_found", CategoryClient},
	{ErrNotDead, "not_dead", CategoryClient},
	{ErrUnknownReadView, "unknown_read_view", CategoryClient},
	{ErrReadViewNotFound, "read_view_not_found", CategoryClient},
	{ErrVersionConflict, "version_conflict", CategoryConcurrency},
	{ErrIdempotencyConflict, "idempotency_conflict", CategoryConcurrency},
	{ErrIdempotencyInProgress, "idempotency_in_progress", CategoryConcurrency},
	{ErrAuditChainBroken, "audit_chain_broken", CategoryIntegrity},
	{ErrAuditAppendFailed, "audit_append_failed", CategoryIntegrity},
	{ErrInvalidRolePolicy, "invalid_role_policy", CategoryInfrastructure},
	{ErrUnknownEventType, "unknown_event_type", CategoryInfrastructure},
	{ErrRepositoryInvariantBroke, "repository_invariant_violated", CategoryInfrastructure},
	{ErrPIIProtection, "pii_protection_failed", CategoryInfrastructure},
}

// Classify maps err onto its stable code. Unknown errors are infrastructure failures.
func Classify(err error) Classification {
	for _, item := range classifications {
		if errors.Is(err, item.err) {
			return Classification{Code: item.code, Category: item.cat}
		}
	}
	return Classification{Code: "internal_error", Category: CategoryInfrastructure}
}

// IsRetryable reports whether a mutation failing with err may be re-executed
// under the same idempotency key.
func IsRetryable(err error) bool {
	return Classify(err).Category == CategoryInfrastructure
}
