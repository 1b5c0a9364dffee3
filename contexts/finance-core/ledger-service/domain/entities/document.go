package entities

import (
	"encoding/json"
	"strings"
	"time"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

type EntityType string

const (
	EntityTypeProject     EntityType = "project"
	EntityTypeLedger      EntityType = "ledger"
	EntityTypeTransaction EntityType = "transaction"
	EntityTypeMember      EntityType = "member"
	EntityTypeComment     EntityType = "comment"
	EntityTypeEvidence    EntityType = "evidence"
)

var entityTypes = map[string]EntityType{
	"project":      EntityTypeProject,
	"projects":     EntityTypeProject,
	"ledger":       EntityTypeLedger,
	"ledgers":      EntityTypeLedger,
	"transaction":  EntityTypeTransaction,
	"transactions": EntityTypeTransaction,
	"member":       EntityTypeMember,
	"members":      EntityTypeMember,
	"comment":      EntityTypeComment,
	"comments":     EntityTypeComment,
	"evidence":     EntityTypeEvidence,
}

// ParseEntityType accepts singular or collection names.
func ParseEntityType(raw string) (EntityType, error) {
	value, ok := entityTypes[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", domainerrors.ErrUnsupportedEntityType
	}
	return value, nil
}

type DocumentKey struct {
	TenantID   string
	EntityType EntityType
	ID         string
}

func (k DocumentKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return domainerrors.ErrMissingTenant
	}
	if _, err := ParseEntityType(string(k.EntityType)); err != nil {
		return err
	}
	if strings.TrimSpace(k.ID) == "" || strings.Contains(k.ID, "/") {
		return domainerrors.ErrInvalidRequest
	}
	return nil
}

// Path is the logical location of the document: tenants/{tenant}/{type}/{id}.
func (k DocumentKey) Path() string {
	return "tenants/" + k.TenantID + "/" + string(k.EntityType) + "/" + k.ID
}

// WriteMode selects how client fields combine with the stored document.
type WriteMode string

const (
	WriteModeMerge   WriteMode = "merge"
	WriteModeReplace WriteMode = "replace"
)

// ParseWriteMode resolves the client supplied mode. An empty value means merge.
func ParseWriteMode(raw string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", WriteModeMerge:
		return WriteModeMerge, nil
	case WriteModeReplace:
		return WriteModeReplace, nil
	default:
		return "", domainerrors.ErrInvalidWriteMode
	}
}

// Document is one versioned entity record.
type Document struct {
	Key       DocumentKey
	Version   int64
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
	Fields    map[string]any
}

// Clone returns a deep copy so callers never share field maps with a store.
func (d Document) Clone() Document {
	d.Fields = CloneFields(d.Fields)
	return d
}

// StringField returns a string field or "" when absent or not a string.
func (d Document) StringField(name string) string {
	value, _ := d.Fields[name].(string)
	return value
}

// Int64Field reads integral numeric fields regardless of how they were decoded.
func (d Document) Int64Field(name string) (int64, bool) {
	return AsInt64(d.Fields[name])
}

// Snapshot renders the document as the audit/outbox before-after shape.
func (d Document) Snapshot() map[string]any {
	out := CloneFields(d.Fields)
	if out == nil {
		out = map[string]any{}
	}
	out["id"] = d.Key.ID
	out["version"] = d.Version
	out["createdAt"] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["createdBy"] = d.CreatedBy
	out["updatedAt"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	out["updatedBy"] = d.UpdatedBy
	return out
}

// MetadataFields are derived from the stored version and never accepted from clients.
var MetadataFields = []string{"id", "version", "createdAt", "createdBy", "updatedAt", "updatedBy"}

func IsMetadataField(name string) bool {
	for _, field := range MetadataFields {
		if field == name {
			return true
		}
	}
	return false
}

func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneFields(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// AsInt64 converts decoded JSON numbers into int64.
func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		if typed != float64(int64(typed)) {
			return 0, false
		}
		return int64(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
