package entities

import (
	"errors"
	"testing"
	"time"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

func TestDefaultRolePolicyAssignmentRules(t *testing.T) {
	policy := DefaultRolePolicy()

	if !policy.CanActorAssignRole("owner", "admin") {
		t.Fatalf("owner should assign admin")
	}
	if policy.CanActorAssignRole("admin", "owner") {
		t.Fatalf("admin must not assign owner")
	}
	if policy.CanActorAssignRole("accountant", "viewer") {
		t.Fatalf("accountant has no assignable roles")
	}
	if policy.CanActorAssignRole("owner", "superuser") {
		t.Fatalf("unknown target role must be rejected")
	}
	if !policy.HasPermission("approver", PermissionTransactionApprove) || policy.HasPermission("accountant", PermissionTransactionApprove) {
		t.Fatalf("unexpected approve permissions")
	}
}

func TestParseRolePolicyValidatesReferences(t *testing.T) {
	cases := map[string]string{
		"empty roles":        `{"roles":[],"permissions":["p"]}`,
		"unknown grant role": `{"roles":["a"],"permissions":["p"],"grants":{"b":["p"]}}`,
		"unknown permission": `{"roles":["a"],"permissions":["p"],"grants":{"a":["q"]}}`,
		"unknown target":     `{"roles":["a"],"permissions":["p"],"assignable":{"a":["b"]}}`,
		"malformed":          `{"roles":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRolePolicy([]byte(raw)); !errors.Is(err, domainerrors.ErrInvalidRolePolicy) {
				t.Fatalf("expected invalid role policy, got %v", err)
			}
		})
	}

	policy, err := ParseRolePolicy([]byte(`{"roles":["lead","member"],"permissions":["member.manage"],"grants":{"lead":["member.manage"]},"assignable":{"lead":["member"]}}`))
	if err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
	if !policy.CanActorAssignRole("lead", "member") || policy.CanActorAssignRole("member", "lead") {
		t.Fatalf("unexpected assignment rules")
	}
}

func TestJobIDIsDeterministic(t *testing.T) {
	a := JobID("evt-1", ViewProjectFinancials, "tenant:p1")
	if a != JobID("evt-1", ViewProjectFinancials, "tenant:p1") {
		t.Fatalf("expected stable job id")
	}
	if a == JobID("evt-1", ViewProjectFinancials, ReplayDedupeKey("tenant:p1", "n1")) {
		t.Fatalf("replay nonce must change the job id")
	}
}

func TestBeginDecision(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	record := &IdempotencyRecord{RequestFingerprint: "f1", Status: IdempotencyStatusCompleted, ExpiresAt: now.Add(time.Hour)}

	if got := BeginDecision(nil, "f1", now); got != BeginStarted {
		t.Fatalf("missing record should start, got %s", got)
	}
	if got := BeginDecision(record, "f1", now); got != BeginReplay {
		t.Fatalf("completed record should replay, got %s", got)
	}
	if got := BeginDecision(record, "f2", now); got != BeginConflict {
		t.Fatalf("different fingerprint should conflict, got %s", got)
	}
	if got := BeginDecision(record, "f2", now.Add(2*time.Hour)); got != BeginStarted {
		t.Fatalf("expired record should start, got %s", got)
	}

	pending := &IdempotencyRecord{RequestFingerprint: "f1", Status: IdempotencyStatusPending, ExpiresAt: now.Add(time.Minute)}
	if got := BeginDecision(pending, "f1", now); got != BeginInProgress {
		t.Fatalf("pending record should be in progress, got %s", got)
	}
	retryable := &IdempotencyRecord{RequestFingerprint: "f1", Status: IdempotencyStatusFailed, Retryable: true, ExpiresAt: now.Add(time.Hour)}
	if got := BeginDecision(retryable, "f1", now); got != BeginStarted {
		t.Fatalf("retryable failure should re-run, got %s", got)
	}
}
