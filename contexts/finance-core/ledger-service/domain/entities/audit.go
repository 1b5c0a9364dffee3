package entities

import "time"

// ActorRef identifies who performed an action. Ref is the protected
// (ciphertext) reference produced by the PII protector, never a raw user id.
type ActorRef struct {
	Ref  string `json:"ref"`
	Role string `json:"role,omitempty"`
}

// AuditEntry is one immutable link of a tenant's hash chain.
type AuditEntry struct {
	ID         string
	TenantID   string
	ChainSeq   int64
	EntityType string
	EntityID   string
	Action     string
	Actor      ActorRef
	RequestID  string
	Details    map[string]any
	Metadata   map[string]any
	Timestamp  time.Time
	PrevHash   string
	Hash       string
}

// AuditHead is the per-tenant serialization point for chain growth.
type AuditHead struct {
	TenantID  string
	LastSeq   int64
	LastHash  string
	UpdatedAt time.Time
}

type ChainBreakReason string

const (
	ReasonMissingOrInvalidChainSeq ChainBreakReason = "missing_or_invalid_chain_seq"
	ReasonSequenceGap              ChainBreakReason = "sequence_gap"
	ReasonPrevHashMismatch         ChainBreakReason = "prev_hash_mismatch"
	ReasonHashMismatch             ChainBreakReason = "hash_mismatch"
	ReasonHeadMismatch             ChainBreakReason = "head_mismatch"
)

// ChainVerification is the outcome of a linear chain scan.
type ChainVerification struct {
	OK         bool
	Checked    int
	LastSeq    int64
	LastHash   string
	BrokenAtID string
	Reason     ChainBreakReason
}
