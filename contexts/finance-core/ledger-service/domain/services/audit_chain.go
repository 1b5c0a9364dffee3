package services

import (
	"strings"
	"time"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contracts/canonicaljson"
)

// AuditAppend is the caller-provided content of a new chain entry.
type AuditAppend struct {
	ID         string
	TenantID   string
	EntityType string
	EntityID   string
	Action     string
	Actor      entities.ActorRef
	RequestID  string
	Details    map[string]any
	Metadata   map[string]any
	Timestamp  time.Time
}

// AuditTimestamp normalizes entry timestamps to UTC microseconds, the
// precision every supported store round-trips losslessly.
func AuditTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NextAuditEntry links a new entry onto head (nil for an empty chain) and
// returns the entry together with the advanced head.
func NextAuditEntry(head *entities.AuditHead, in AuditAppend) (entities.AuditEntry, entities.AuditHead, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return entities.AuditEntry{}, entities.AuditHead{}, domainerrors.ErrMissingTenant
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Action) == "" {
		return entities.AuditEntry{}, entities.AuditHead{}, domainerrors.ErrInvalidRequest
	}
	var lastSeq int64
	prevHash := ""
	if head != nil {
		lastSeq = head.LastSeq
		prevHash = head.LastHash
	}
	entry := entities.AuditEntry{
		ID:         in.ID,
		TenantID:   in.TenantID,
		ChainSeq:   lastSeq + 1,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Action:     in.Action,
		Actor:      in.Actor,
		RequestID:  in.RequestID,
		Details:    entities.CloneFields(in.Details),
		Metadata:   entities.CloneFields(in.Metadata),
		Timestamp:  AuditTimestamp(in.Timestamp),
		PrevHash:   prevHash,
	}
	hash, err := AuditEntryHash(entry)
	if err != nil {
		return entities.AuditEntry{}, entities.AuditHead{}, err
	}
	entry.Hash = hash
	return entry, entities.AuditHead{
		TenantID:  in.TenantID,
		LastSeq:   entry.ChainSeq,
		LastHash:  hash,
		UpdatedAt: entry.Timestamp,
	}, nil
}

// AuditEntryHash is sha256 over the canonical entry without its own hash.
func AuditEntryHash(entry entities.AuditEntry) (string, error) {
	var prevHash any
	if entry.PrevHash != "" {
		prevHash = entry.PrevHash
	}
	return canonicaljson.Hash(map[string]any{
		"id":         entry.ID,
		"tenantId":   entry.TenantID,
		"chainSeq":   entry.ChainSeq,
		"entityType": entry.EntityType,
		"entityId":   entry.EntityID,
		"action":     entry.Action,
		"actor": map[string]any{
			"ref":  entry.Actor.Ref,
			"role": entry.Actor.Role,
		},
		"requestId": entry.RequestID,
		"details":   entry.Details,
		"metadata":  entry.Metadata,
		"timestamp": AuditTimestamp(entry.Timestamp).Format(time.RFC3339Nano),
		"prevHash":  prevHash,
	})
}

// ChainVerifier checks entries fed in ascending chainSeq order and stops at
// the first break.
//
// Per entry: the sequence must be positive and contiguous, the stored hash
// must match the recomputed content hash, and prevHash must equal the
// previous entry's recomputed hash. Content is checked before linkage so a
// tampered prevHash surfaces as hash_mismatch on the entry itself.
type ChainVerifier struct {
	prevSeq  int64
	prevHash string
	result   entities.ChainVerification
	broken   bool
}

func NewChainVerifier() *ChainVerifier {
	return &ChainVerifier{result: entities.ChainVerification{OK: true}}
}

// Check consumes one entry. It returns false once the chain is broken.
func (v *ChainVerifier) Check(entry entities.AuditEntry) bool {
	if v.broken {
		return false
	}
	v.result.Checked++
	if entry.ChainSeq <= 0 {
		return v.fail(entry, entities.ReasonMissingOrInvalidChainSeq)
	}
	if entry.ChainSeq != v.prevSeq+1 {
		return v.fail(entry, entities.ReasonSequenceGap)
	}
	recomputed, err := AuditEntryHash(entry)
	if err != nil || recomputed != entry.Hash {
		return v.fail(entry, entities.ReasonHashMismatch)
	}
	if entry.PrevHash != v.prevHash {
		return v.fail(entry, entities.ReasonPrevHashMismatch)
	}
	v.prevSeq = entry.ChainSeq
	v.prevHash = recomputed
	v.result.LastSeq = entry.ChainSeq
	v.result.LastHash = recomputed
	return true
}

// CheckHead compares the verified tail with the head pointer. Only
// meaningful after the whole chain has been scanned.
func (v *ChainVerifier) CheckHead(head *entities.AuditHead) bool {
	if v.broken {
		return false
	}
	var headSeq int64
	headHash := ""
	if head != nil {
		headSeq = head.LastSeq
		headHash = head.LastHash
	}
	if headSeq != v.prevSeq || headHash != v.prevHash {
		v.broken = true
		v.result.OK = false
		v.result.Reason = entities.ReasonHeadMismatch
		return false
	}
	return true
}

func (v *ChainVerifier) Result() entities.ChainVerification {
	return v.result
}

func (v *ChainVerifier) fail(entry entities.AuditEntry, reason entities.ChainBreakReason) bool {
	v.broken = true
	v.result.OK = false
	v.result.BrokenAtID = entry.ID
	v.result.Reason = reason
	return false
}
