package services

import "time"

const (
	maxBackoff         = 300 * time.Second
	defaultMaxAttempts = 5
	defaultClaimLease  = 5 * time.Minute
)

// RetryBackoff is min(300, 2^attempts) seconds.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 9 {
		return maxBackoff
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// RetryPolicy is shared by the outbox relay and the work queue.
type RetryPolicy struct {
	MaxAttempts int
	// ClaimLease bounds how long a PROCESSING claim is honored before the
	// item becomes claimable again.
	ClaimLease time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) Lease() time.Duration {
	if p.ClaimLease <= 0 {
		return defaultClaimLease
	}
	return p.ClaimLease
}

// StaleBefore is the claimedAt cutoff for reclaiming abandoned PROCESSING items.
func (p RetryPolicy) StaleBefore(now time.Time) time.Time {
	return now.Add(-p.Lease())
}

// OnFailure decides the fate of an item whose attempt number attempts just failed.
func (p RetryPolicy) OnFailure(attempts int, now time.Time) (dead bool, nextAttemptAt time.Time) {
	if attempts >= p.maxAttempts() {
		return true, now
	}
	return false, now.Add(RetryBackoff(attempts))
}
