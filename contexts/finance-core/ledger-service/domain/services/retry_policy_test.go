package services

import (
	"testing"
	"time"
)

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		4:  16 * time.Second,
		8:  256 * time.Second,
		9:  300 * time.Second,
		50: 300 * time.Second,
		-3: time.Second,
	}
	for attempts, want := range cases {
		if got := RetryBackoff(attempts); got != want {
			t.Fatalf("RetryBackoff(%d) = %s, want %s", attempts, got, want)
		}
	}
}

func TestRetryPolicyGoesDeadAtMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dead, next := policy.OnFailure(2, now)
	if dead || !next.Equal(now.Add(4*time.Second)) {
		t.Fatalf("expected retry at +4s, got dead=%v next=%s", dead, next)
	}
	dead, _ = policy.OnFailure(3, now)
	if !dead {
		t.Fatalf("expected dead after third attempt")
	}
}

func TestRetryPolicyLeaseDefault(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	if got := (RetryPolicy{}).StaleBefore(now); !got.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("unexpected stale cutoff %s", got)
	}
}
