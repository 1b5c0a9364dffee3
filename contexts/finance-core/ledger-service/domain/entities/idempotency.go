package entities

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusPending   IdempotencyStatus = "pending"
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
	IdempotencyStatusFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord is keyed by (TenantID, Key).
type IdempotencyRecord struct {
	TenantID           string
	Key                string
	RequestFingerprint string
	Status             IdempotencyStatus
	ResponseStatus     int
	ResponseBody       []byte
	Retryable          bool
	ActorID            string
	RequestID          string
	Attempt            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time
}

func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// BeginOutcome is the guard decision for one incoming attempt.
type BeginOutcome string

const (
	BeginStarted    BeginOutcome = "started"
	BeginReplay     BeginOutcome = "replay"
	BeginConflict   BeginOutcome = "conflict"
	BeginInProgress BeginOutcome = "in_progress"
)

// BeginDecision resolves a new attempt against the stored record, if any.
// A missing record, or one past expiry (including an abandoned pending
// attempt), always starts.
func BeginDecision(existing *IdempotencyRecord, fingerprint string, now time.Time) BeginOutcome {
	if existing == nil {
		return BeginStarted
	}
	if existing.Expired(now) {
		return BeginStarted
	}
	if existing.RequestFingerprint != fingerprint {
		return BeginConflict
	}
	switch existing.Status {
	case IdempotencyStatusCompleted:
		return BeginReplay
	case IdempotencyStatusFailed:
		if existing.Retryable {
			return BeginStarted
		}
		return BeginReplay
	default:
		return BeginInProgress
	}
}
